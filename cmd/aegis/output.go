package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/alfredjeanlab/aegis/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func renderHealth(status string) string {
	if status == "ok" {
		return ui.RenderSuccess(status)
	}
	return ui.RenderError(status)
}

func printDevice(d *model.DeviceEntry) {
	fmt.Printf("Device:      %s\n", d.DeviceID)
	fmt.Printf("Conn ID:     %s\n", d.ConnID)
	if d.RemoteAddr != "" {
		fmt.Printf("Remote:      %s\n", d.RemoteAddr)
	}
	fmt.Printf("Connected:   %s\n", formatTime(d.ConnectedAt))
	fmt.Printf("Last seen:   %s\n", formatTime(d.LastSeen))
	fmt.Printf("Messages:    %d\n", d.MessageCount)
	if d.Idle {
		fmt.Printf("Idle:        %s\n", ui.RenderWarning(formatIdle(d.IdleSecs)))
	}
}

func printDeviceTable(devices []model.DeviceEntry) {
	if len(devices) == 0 {
		fmt.Println("No devices connected.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tCONN\tREMOTE\tCONNECTED\tMESSAGES\tIDLE")
	for _, d := range devices {
		idle := ""
		if d.Idle {
			idle = formatIdle(d.IdleSecs)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(d.DeviceID, 40),
			d.ConnID,
			d.RemoteAddr,
			formatTime(d.ConnectedAt),
			d.MessageCount,
			idle,
		)
	}
	w.Flush()
	fmt.Printf("\n%d device(s) connected\n", len(devices))
}

// formatLogRecord renders one persisted row as a console line.
func formatLogRecord(rec *model.LogRecord) string {
	return fmt.Sprintf("%s %s %-12s %-14s %s",
		ui.RenderMuted(fmt.Sprintf("#%-6d", rec.ID)),
		ui.RenderMuted(rec.Timestamp),
		rec.EventType,
		truncate(rec.DeviceID, 14),
		ui.RenderLogLine(rec.Message),
	)
}

// formatEvent renders a live event received from NATS.
func formatEvent(ev model.Event) string {
	return fmt.Sprintf("%s %-12s %-14s %s",
		ui.RenderMuted(model.FormatTimestamp(ev.Timestamp)),
		ev.Type,
		truncate(ev.DeviceID, 14),
		ui.RenderLogLine(ev.Message),
	)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatIdle(secs float64) string {
	return (time.Duration(secs) * time.Second).String()
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
