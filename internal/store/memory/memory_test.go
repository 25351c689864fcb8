package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/alfredjeanlab/aegis/internal/store"
)

func TestLogEvent_AssignsMonotonicIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := s.LogEvent(ctx, "dev-1", model.EventLog, fmt.Sprintf("line %d", i))
		if err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
		if rec.ID != int64(i+1) {
			t.Errorf("record %d id = %d, want %d", i, rec.ID, i+1)
		}
	}
}

func TestLogEvent_TimestampAndPersistedType(t *testing.T) {
	s := New()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)
	s.now = func() time.Time { return fixed }

	rec, err := s.LogEvent(context.Background(), model.SystemDeviceID, model.EventMessage, "[dev] hello")
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if rec.Timestamp != "2024-01-02T03:04:05.000006Z" {
		t.Errorf("Timestamp = %q", rec.Timestamp)
	}
	if rec.EventType != model.EventLog {
		t.Errorf("EventType = %q, want LOG", rec.EventType)
	}
}

func TestLogEvent_ConcurrentWritersNoLossNoDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	const writers, perWriter = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.LogEvent(ctx, fmt.Sprintf("dev-%d", w), model.EventLog, "x"); err != nil {
					t.Errorf("LogEvent: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	recs := s.Records()
	if len(recs) != writers*perWriter {
		t.Fatalf("got %d records, want %d", len(recs), writers*perWriter)
	}
	seen := make(map[int64]bool, len(recs))
	for i, r := range recs {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d", r.ID)
		}
		seen[r.ID] = true
		if i > 0 && r.ID <= recs[i-1].ID {
			t.Fatalf("ids not increasing at %d: %d after %d", i, r.ID, recs[i-1].ID)
		}
	}
}

func TestListLogs_Filters(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.LogEvent(ctx, "a", model.EventConnected, "Device connected")
	s.LogEvent(ctx, model.SystemDeviceID, model.EventLog, "[a] hi")
	s.LogEvent(ctx, "b", model.EventConnected, "Device connected")
	s.LogEvent(ctx, "a", model.EventDisconnected, "Device disconnected")

	for _, tc := range []struct {
		name    string
		filter  model.LogFilter
		wantIDs []int64
	}{
		{"All", model.LogFilter{}, []int64{1, 2, 3, 4}},
		{"Device", model.LogFilter{DeviceID: "a"}, []int64{1, 4}},
		{"Type", model.LogFilter{EventType: model.EventConnected}, []int64{1, 3}},
		{"MessageMapsToLog", model.LogFilter{EventType: model.EventMessage}, []int64{2}},
		{"AfterID", model.LogFilter{AfterID: 2}, []int64{3, 4}},
		{"Limit", model.LogFilter{Limit: 2}, []int64{1, 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListLogs(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListLogs: %v", err)
			}
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("got %d records, want %d", len(got), len(tc.wantIDs))
			}
			for i, r := range got {
				if r.ID != tc.wantIDs[i] {
					t.Errorf("record %d id = %d, want %d", i, r.ID, tc.wantIDs[i])
				}
			}
		})
	}
}

func TestClose_WritesFail(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.LogEvent(ctx, "a", model.EventLog, "before"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := s.LogEvent(ctx, "a", model.EventLog, "after"); !errors.Is(err, store.ErrClosed) {
		t.Errorf("LogEvent after Close = %v, want ErrClosed", err)
	}
	if _, err := s.CountLogs(ctx); !errors.Is(err, store.ErrClosed) {
		t.Errorf("CountLogs after Close = %v, want ErrClosed", err)
	}
	if n := len(s.Records()); n != 1 {
		t.Errorf("Records() after Close = %d, want 1", n)
	}
}
