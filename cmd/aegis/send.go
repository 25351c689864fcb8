package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alfredjeanlab/aegis/internal/device"
	"github.com/alfredjeanlab/aegis/internal/ui"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:     "send <device-id> <message>...",
	Short:   "Connect to the listener as a device and send messages",
	GroupID: "device",
	Args:    cobra.MinimumNArgs(2),
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		caFile, _ := cmd.Flags().GetString("ca")
		serverName, _ := cmd.Flags().GetString("server-name")
		delay, _ := cmd.Flags().GetDuration("delay")
		linger, _ := cmd.Flags().GetDuration("linger")

		cfg := device.Config{
			Addr:           addr,
			DeviceID:       args[0],
			HandshakeDelay: delay,
			DialTimeout:    10 * time.Second,
		}
		if caFile != "" {
			tlsCfg, err := device.LoadRootCA(caFile)
			if err != nil {
				return err
			}
			tlsCfg.ServerName = serverName
			cfg.TLS = tlsCfg
		} else {
			fmt.Fprintln(os.Stderr, ui.RenderWarning("warning: server certificate not verified (pass --ca to verify)"))
		}

		ctx := context.Background()
		conn, err := device.Dial(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		fmt.Printf("Connected to %s as %s\n", addr, conn.DeviceID())

		// Each message is a separate write; the pause keeps them in
		// separate reads on the listener side.
		for i, msg := range args[1:] {
			if i > 0 && delay > 0 {
				time.Sleep(delay)
			}
			if err := conn.Send(msg); err != nil {
				return err
			}
			fmt.Printf("Sent: %s\n", msg)
		}

		time.Sleep(linger)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("addr", envOrDefault("AEGIS_DEVICE_ADDR", "localhost:9000"), "listener address")
	sendCmd.Flags().String("ca", "", "PEM certificate to trust (skips verification when empty)")
	sendCmd.Flags().String("server-name", "localhost", "expected server name when --ca is set")
	sendCmd.Flags().Duration("delay", device.DefaultHandshakeDelay, "pause after the handshake and between messages")
	sendCmd.Flags().Duration("linger", 2*time.Second, "how long to hold the connection open after the last message")
}
