package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/alfredjeanlab/aegis/internal/events"
	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Tail device events as they happen",
	GroupID: "query",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		device, _ := cmd.Flags().GetString("device")
		natsURL, _ := cmd.Flags().GetString("nats-url")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if natsURL != "" {
			return watchNATS(ctx, natsURL, device)
		}
		return watchPoll(ctx, interval, device)
	},
}

// watchNATS prints every event published on aegis.> that concerns device
// (all events when device is empty).
func watchNATS(ctx context.Context, natsURL, device string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.SubscribeEvents(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if !concernsDevice(device, ev.DeviceID, ev.Message) {
				continue
			}
			if jsonOutput {
				printJSON(ev)
			} else {
				fmt.Println(formatEvent(ev))
			}
		}
	}
}

// watchPoll skips the existing log, then prints new rows every interval.
func watchPoll(ctx context.Context, interval time.Duration, device string) error {
	lastID, err := tailID(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		recs, err := pollAfter(ctx, lastID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, rec := range recs {
			lastID = rec.ID
			if !concernsDevice(device, rec.DeviceID, rec.Message) {
				continue
			}
			if jsonOutput {
				printJSON(rec)
			} else {
				fmt.Println(formatLogRecord(rec))
			}
		}
	}
}

// tailID returns the id of the newest persisted row.
func tailID(ctx context.Context) (int64, error) {
	recs, err := pollAfter(ctx, 0)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].ID, nil
}

// pollAfter fetches every row with an id greater than afterID, following
// pages until the server returns a short one.
func pollAfter(ctx context.Context, afterID int64) ([]*model.LogRecord, error) {
	var out []*model.LogRecord
	for {
		resp, err := apiClient.ListLogs(ctx, model.LogFilter{AfterID: afterID, Limit: model.MaxLogLimit})
		if err != nil {
			return nil, fmt.Errorf("listing logs: %w", err)
		}
		out = append(out, resp.Logs...)
		if len(resp.Logs) < model.MaxLogLimit {
			return out, nil
		}
		afterID = resp.Logs[len(resp.Logs)-1].ID
	}
}

// concernsDevice reports whether a row or event belongs to device. Message
// lines are stored under SYSTEM, so their "[id] ..." tag is checked too.
func concernsDevice(device, rowDevice, message string) bool {
	if device == "" || rowDevice == device {
		return true
	}
	return model.MessageLineDevice(message) == device
}

func init() {
	watchCmd.Flags().Duration("interval", 2*time.Second, "poll interval when NATS is not configured")
	watchCmd.Flags().String("device", "", "only events for this device id")
	watchCmd.Flags().String("nats-url", os.Getenv("AEGIS_NATS_URL"), "NATS URL for live events (polls the HTTP API when empty)")
}
