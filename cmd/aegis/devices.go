package main

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/aegis/internal/client"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices [device-id]",
	Short:   "List connected devices, or show one",
	GroupID: "query",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if len(args) == 1 {
			d, err := apiClient.GetDevice(ctx, args[0])
			if client.IsNotFound(err) {
				return fmt.Errorf("device %q is not connected", args[0])
			}
			if err != nil {
				return fmt.Errorf("fetching device: %w", err)
			}
			if jsonOutput {
				printJSON(d)
			} else {
				printDevice(d)
			}
			return nil
		}

		resp, err := apiClient.ListDevices(ctx)
		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}
		if jsonOutput {
			printJSON(resp.Devices)
		} else {
			printDeviceTable(resp.Devices)
		}
		return nil
	},
}
