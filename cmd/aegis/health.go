package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/aegis/internal/client"
	"github.com/alfredjeanlab/aegis/internal/server"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the command center",
	GroupID: "query",
	RunE: func(cmd *cobra.Command, args []string) error {
		var checker client.HealthChecker
		switch transport {
		case "http":
			checker = apiClient
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr, server.ServiceName, authToken)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			defer c.Close()
			checker = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := checker.Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			printJSON(map[string]string{"status": status, "transport": transport})
		} else {
			fmt.Printf("Health: %s\n", renderHealth(status))
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}
