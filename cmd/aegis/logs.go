package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	Short:   "Query the persisted event log",
	GroupID: "query",
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")
		eventType, _ := cmd.Flags().GetString("type")
		afterID, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.LogFilter{
			DeviceID: device,
			AfterID:  afterID,
			Limit:    limit,
		}
		if eventType != "" {
			et, err := model.ParseEventType(strings.ToUpper(eventType))
			if err != nil {
				return err
			}
			filter.EventType = et
		}

		resp, err := apiClient.ListLogs(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("listing logs: %w", err)
		}

		if jsonOutput {
			printJSON(resp.Logs)
			return nil
		}
		for _, rec := range resp.Logs {
			fmt.Println(formatLogRecord(rec))
		}
		if len(resp.Logs) == 0 {
			fmt.Println("No log records.")
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().String("device", "", "only records stored under this device id")
	logsCmd.Flags().String("type", "", "only records of this event type (CONNECTED, DISCONNECTED, LOG)")
	logsCmd.Flags().Int64("after", 0, "only records with an id greater than this")
	logsCmd.Flags().Int("limit", 100, "maximum number of records")
}
