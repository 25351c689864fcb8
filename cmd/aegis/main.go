package main

import (
	"os"

	"github.com/alfredjeanlab/aegis/internal/client"
	"github.com/alfredjeanlab/aegis/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	jsonOutput bool
	authToken  string

	apiClient client.Client
)

func defaultHTTPURL() string {
	return envOrDefault("AEGIS_HTTP_URL", "http://localhost:8080")
}

func defaultServer() string {
	return envOrDefault("AEGIS_SERVER", "localhost:9090")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:          "aegis <command>",
	Short:        "Secure device command center",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		apiClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if apiClient != nil {
			apiClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP API URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport for health checks (http or grpc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("AEGIS_AUTH_TOKEN"), "bearer token for the API")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "query", Title: "Query:"},
		&cobra.Group{ID: "device", Title: "Device:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	withEnv(rootCmd, "AEGIS_HTTP_URL", "AEGIS_SERVER", "AEGIS_AUTH_TOKEN")
	withEnv(serveCmd,
		"AEGIS_CONFIG", "AEGIS_DATABASE_URL", "AEGIS_LISTEN_ADDR", "AEGIS_CERT_FILE", "AEGIS_KEY_FILE",
		"AEGIS_HTTP_ADDR", "AEGIS_GRPC_ADDR", "AEGIS_NATS_URL", "AEGIS_AUTH_TOKEN",
		"AEGIS_MAX_CONNS", "AEGIS_IDLE_THRESHOLD", "AEGIS_SYNC_INTERVAL",
		"AEGIS_SYNC_S3_BUCKET", "AEGIS_SYNC_S3_REGION", "AEGIS_SYNC_S3_KEY", "AEGIS_SYNC_S3_ENDPOINT",
		"AEGIS_SYNC_GIT_REPO", "AEGIS_SYNC_GIT_FILE", "AEGIS_SYNC_GIT_BRANCH",
	)
	withEnv(watchCmd, "AEGIS_NATS_URL")
	withEnv(sendCmd, "AEGIS_DEVICE_ADDR")

	// Server
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(genCertCmd)

	// Query
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(watchCmd)

	// Device
	rootCmd.AddCommand(sendCmd)
}

func main() {
	ui.Configure()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
