package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/aegis/internal/events"
	"github.com/alfredjeanlab/aegis/internal/model"
)

// sseEventParsed represents a single parsed SSE event from the stream.
type sseEventParsed struct {
	ID    string
	Event string
	Data  string
}

// sseReader reads SSE events from an HTTP response body using a bufio.Scanner.
// It sends parsed events to the returned channel and stops when the context is cancelled
// or the body is closed.
func sseReader(ctx context.Context, resp *http.Response) <-chan sseEventParsed {
	ch := make(chan sseEventParsed, 32)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		var current sseEventParsed
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id:"):
				current.ID = strings.TrimPrefix(line, "id:")
			case strings.HasPrefix(line, "event:"):
				current.Event = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				current.Data = strings.TrimPrefix(line, "data:")
			case line == "":
				if current.Event != "" || current.Data != "" {
					ch <- current
					current = sseEventParsed{}
				}
			}
		}
	}()
	return ch
}

// waitForEvent reads from the SSE event channel until an event with the given
// topic is received, or the timeout expires.
func waitForEvent(t *testing.T, ch <-chan sseEventParsed, topic string, timeout time.Duration) sseEventParsed {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("SSE stream closed while waiting for %s", topic)
			}
			if evt.Event == topic {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for SSE event %s", topic)
		}
	}
}

func TestSSEIntegration_DeviceLifecycle(t *testing.T) {
	cc, _, _ := newTestCommandCenter(t)
	ts := httptest.NewServer(cc.NewHTTPHandler("tok"))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/stream?topics=aegis.device.*", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connecting to stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ch := sseReader(ctx, resp)
	time.Sleep(50 * time.Millisecond)

	cc.OnConnected("sentinel_01")
	cc.OnMessage("[sentinel_01] Hello from Sentinel!")
	cc.OnDisconnected("sentinel_01")

	connected := waitForEvent(t, ch, events.TopicDeviceConnected, 2*time.Second)
	var ev model.Event
	if err := json.Unmarshal([]byte(connected.Data), &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if ev.DeviceID != "sentinel_01" || ev.Type != model.EventConnected {
		t.Fatalf("unexpected connected event %+v", ev)
	}

	// The log topic is filtered out, so the next device event is the disconnect.
	next := waitForEvent(t, ch, events.TopicDeviceDisconnected, 2*time.Second)
	if !strings.Contains(next.Data, `"device_id":"sentinel_01"`) {
		t.Fatalf("unexpected disconnected event %s", next.Data)
	}
}

func TestSSEIntegration_Unauthorized(t *testing.T) {
	cc, _, _ := newTestCommandCenter(t)
	ts := httptest.NewServer(cc.NewHTTPHandler("tok"))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/events/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
