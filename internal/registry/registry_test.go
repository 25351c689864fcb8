package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegister_BasicTracking(t *testing.T) {
	r := New()

	r.Register(&Device{ID: "sensor-1", ConnID: "cn-a", RemoteAddr: "10.0.0.5:51234"})

	if r.Len() != 1 {
		t.Fatalf("expected 1 device, got %d", r.Len())
	}
	d, ok := r.Lookup("sensor-1")
	if !ok {
		t.Fatal("expected sensor-1 to be registered")
	}
	if d.ConnID != "cn-a" {
		t.Errorf("expected conn_id cn-a, got %s", d.ConnID)
	}
	if d.ConnectedAt.IsZero() {
		t.Error("expected ConnectedAt to be stamped")
	}
}

func TestRegister_Nil(t *testing.T) {
	r := New()
	r.Register(nil)
	if r.Len() != 0 {
		t.Fatalf("expected 0 devices, got %d", r.Len())
	}
}

func TestRegister_DuplicateOverwrites(t *testing.T) {
	r := New()

	r.Register(&Device{ID: "dup", ConnID: "cn-first"})
	r.Register(&Device{ID: "dup", ConnID: "cn-second"})

	if r.Len() != 1 {
		t.Fatalf("expected 1 device after duplicate register, got %d", r.Len())
	}
	d, _ := r.Lookup("dup")
	if d.ConnID != "cn-second" {
		t.Errorf("expected last writer cn-second, got %s", d.ConnID)
	}
}

func TestUnregister_ByIDOnly(t *testing.T) {
	r := New()

	// Second connection overwrites the first; the first one disconnecting
	// still removes the entry.
	r.Register(&Device{ID: "dup", ConnID: "cn-first"})
	r.Register(&Device{ID: "dup", ConnID: "cn-second"})

	if !r.Unregister("dup") {
		t.Fatal("expected Unregister to report removal")
	}
	if _, ok := r.Lookup("dup"); ok {
		t.Error("expected dup to be gone")
	}
	if r.Unregister("dup") {
		t.Error("expected second Unregister to be a no-op")
	}
}

func TestUnregister_Absent(t *testing.T) {
	r := New()
	if r.Unregister("nobody") {
		t.Error("expected false for absent id")
	}
}

func TestSnapshot_Sorted(t *testing.T) {
	r := New()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		r.Register(&Device{ID: id})
	}

	got := r.Snapshot()
	want := []string{"alpha", "bravo", "charlie"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d]: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()

	const k = 64
	const j = 20

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(&Device{ID: fmt.Sprintf("dev-%02d", i), ConnID: fmt.Sprintf("cn-%02d", i)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < j; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Unregister(fmt.Sprintf("dev-%02d", i))
		}(i)
	}
	// Readers race with the writers.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
			_ = r.Roster()
		}()
	}
	wg.Wait()

	if r.Len() != k-j {
		t.Fatalf("expected %d devices, got %d", k-j, r.Len())
	}
	for i := 0; i < j; i++ {
		if _, ok := r.Lookup(fmt.Sprintf("dev-%02d", i)); ok {
			t.Errorf("dev-%02d should have been removed", i)
		}
	}
}

func TestTouch_CountsMessages(t *testing.T) {
	r := New()
	r.Register(&Device{ID: "chatty"})

	r.Touch("chatty")
	r.Touch("chatty")
	r.Touch("absent")

	roster := r.Roster()
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	if roster[0].MessageCount != 2 {
		t.Errorf("expected message_count 2, got %d", roster[0].MessageCount)
	}
}

func TestRoster_SortedByMostRecent(t *testing.T) {
	r := New()
	base := time.Now()

	r.Register(&Device{ID: "first", ConnectedAt: base.Add(-2 * time.Second)})
	r.Register(&Device{ID: "second", ConnectedAt: base.Add(-1 * time.Second)})
	r.Register(&Device{ID: "third", ConnectedAt: base})

	roster := r.Roster()
	if len(roster) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(roster))
	}
	if roster[0].DeviceID != "third" {
		t.Errorf("expected third first, got %s", roster[0].DeviceID)
	}
	if roster[2].DeviceID != "first" {
		t.Errorf("expected first last, got %s", roster[2].DeviceID)
	}
}

func TestSweep_FlagsIdleDevices(t *testing.T) {
	r := New()
	r.Register(&Device{ID: "quiet", ConnID: "cn-q"})
	r.Register(&Device{ID: "busy", ConnID: "cn-b"})

	r.mu.Lock()
	r.devices["quiet"].lastSeen = time.Now().Add(-20 * time.Minute)
	r.mu.Unlock()

	var flagged []string
	cfg := &SweepConfig{
		IdleThreshold: 10 * time.Minute,
		OnIdle: func(id, _ string, _ time.Duration) {
			flagged = append(flagged, id)
		},
	}

	r.sweep(cfg)
	// A second sweep must not re-report.
	r.sweep(cfg)

	if len(flagged) != 1 || flagged[0] != "quiet" {
		t.Fatalf("expected only quiet to be flagged once, got %v", flagged)
	}
	// Flagging never removes the device.
	if r.Len() != 2 {
		t.Errorf("expected 2 devices after sweep, got %d", r.Len())
	}
	for _, e := range r.Roster() {
		if e.DeviceID == "quiet" && !e.Idle {
			t.Error("expected quiet to be idle")
		}
		if e.DeviceID == "busy" && e.Idle {
			t.Error("expected busy not to be idle")
		}
	}
}

func TestTouch_ClearsIdle(t *testing.T) {
	r := New()
	r.Register(&Device{ID: "sleepy"})

	r.mu.Lock()
	r.devices["sleepy"].lastSeen = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	r.sweep(&SweepConfig{IdleThreshold: time.Minute})
	r.Touch("sleepy")

	roster := r.Roster()
	if roster[0].Idle {
		t.Error("expected sleepy to be active again after Touch")
	}
}

func TestStartSweeper_StopsCleanly(t *testing.T) {
	r := New()

	r.StartSweeper(&SweepConfig{
		SweepInterval: 50 * time.Millisecond,
	})

	time.Sleep(150 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within 2 seconds")
	}
}
