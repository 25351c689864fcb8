package main

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/aegis/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the server status line and counters",
	GroupID: "query",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := apiClient.Status(context.Background())
		if err != nil {
			return fmt.Errorf("fetching status: %w", err)
		}

		if jsonOutput {
			printJSON(st)
			return nil
		}

		fmt.Println(ui.RenderAccent(st.Status))
		fmt.Printf("  Port:          %s\n", st.Port)
		fmt.Printf("  Devices:       %d\n", st.Devices)
		fmt.Printf("  Active conns:  %d\n", st.ActiveConns)
		fmt.Printf("  Log records:   %d\n", st.LogCount)
		fmt.Printf("  SSE streams:   %d\n", st.StreamClients)
		fmt.Printf("  Uptime:        %s\n", st.Uptime())
		if st.ConsoleDevices != st.Devices {
			fmt.Println(ui.RenderWarning(fmt.Sprintf("  console view shows %d device(s)", st.ConsoleDevices)))
		}
		return nil
	},
}
