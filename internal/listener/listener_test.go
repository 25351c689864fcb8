package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/aegis/internal/registry"
)

const waitFor = 3 * time.Second

type event struct {
	kind string // C, M or D
	arg  string
}

// chanDispatcher forwards every notification onto a buffered channel.
type chanDispatcher struct {
	ch chan event
}

func newChanDispatcher() *chanDispatcher {
	return &chanDispatcher{ch: make(chan event, 1024)}
}

func (d *chanDispatcher) OnConnected(id string)    { d.ch <- event{"C", id} }
func (d *chanDispatcher) OnMessage(line string)    { d.ch <- event{"M", line} }
func (d *chanDispatcher) OnDisconnected(id string) { d.ch <- event{"D", id} }

func (d *chanDispatcher) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-d.ch:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for dispatcher event")
		return event{}
	}
}

func (d *chanDispatcher) expect(t *testing.T, kind, arg string) {
	t.Helper()
	ev := d.next(t)
	require.Equal(t, event{kind, arg}, ev)
}

func (d *chanDispatcher) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case ev := <-d.ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(within):
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testTLS writes a throwaway certificate to disk and loads it back through
// LoadTLSConfig.
func testTLS(t *testing.T) *tls.Config {
	t.Helper()
	certPEM, keyPEM, err := GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	cfg, err := LoadTLSConfig(certFile, keyFile)
	require.NoError(t, err)
	return cfg
}

type harness struct {
	l    *Listener
	reg  *registry.Registry
	disp *chanDispatcher
	addr string
	done chan error
}

// startListener binds on a random loopback port, starts Serve and consumes
// the startup line.
func startListener(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := Config{
		Addr:   "127.0.0.1:0",
		TLS:    testTLS(t),
		Logger: discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		reg:  registry.New(),
		disp: newChanDispatcher(),
		done: make(chan error, 1),
	}
	h.l = New(cfg, h.reg, h.disp)
	require.NoError(t, h.l.Listen())
	h.addr = h.l.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("Serve did not return after cancel")
		}
	})

	_, port, err := net.SplitHostPort(h.addr)
	require.NoError(t, err)
	h.disp.expect(t, "M", "Secure server started on port "+port)
	return h
}

func (h *harness) dial(t *testing.T) *tls.Conn {
	t.Helper()
	conn, err := tls.Dial("tcp", h.addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // test client
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func write(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	_, err := conn.Write([]byte(s))
	require.NoError(t, err)
}

func TestSentinelScenario(t *testing.T) {
	h := startListener(t, nil)

	conn := h.dial(t)
	write(t, conn, "sentinel_01")
	h.disp.expect(t, "C", "sentinel_01")

	_, ok := h.reg.Lookup("sentinel_01")
	assert.True(t, ok, "device should be registered once connected")

	write(t, conn, "Hello from Sentinel!")
	h.disp.expect(t, "M", "[sentinel_01] Hello from Sentinel!")

	require.NoError(t, conn.Close())
	h.disp.expect(t, "D", "sentinel_01")

	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.l.Active() == 0 }, waitFor, 10*time.Millisecond)
	h.disp.expectNone(t, 100*time.Millisecond)
}

func TestHandshakeTrimsWhitespace(t *testing.T) {
	h := startListener(t, nil)

	conn := h.dial(t)
	write(t, conn, "  rover-7 \r\n")
	h.disp.expect(t, "C", "rover-7")
}

func TestHandshakeBlankIDIsEmptyDevice(t *testing.T) {
	h := startListener(t, nil)

	conn := h.dial(t)
	write(t, conn, " \t\n")
	h.disp.expect(t, "C", "")
	_, ok := h.reg.Lookup("")
	assert.True(t, ok, "blank id should register as the empty device")

	require.NoError(t, conn.Close())
	h.disp.expect(t, "D", "")
	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, waitFor, 10*time.Millisecond)
	h.disp.expectNone(t, 100*time.Millisecond)
}

func TestNMessagesThenDisconnect(t *testing.T) {
	h := startListener(t, nil)

	conn := h.dial(t)
	write(t, conn, "counter")
	h.disp.expect(t, "C", "counter")

	const n = 5
	for i := 0; i < n; i++ {
		// Wait for each line so every write is delivered by its own read.
		msg := fmt.Sprintf("reading %d", i)
		write(t, conn, msg)
		h.disp.expect(t, "M", "[counter] "+msg)
	}

	require.NoError(t, conn.Close())
	h.disp.expect(t, "D", "counter")
	h.disp.expectNone(t, 100*time.Millisecond)

	// Message accounting happened before the device was removed.
	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, waitFor, 10*time.Millisecond)
}

func TestDuplicateDeviceID(t *testing.T) {
	h := startListener(t, nil)

	first := h.dial(t)
	write(t, first, "dup")
	h.disp.expect(t, "C", "dup")
	d1, ok := h.reg.Lookup("dup")
	require.True(t, ok)

	second := h.dial(t)
	write(t, second, "dup")
	h.disp.expect(t, "C", "dup")
	d2, ok := h.reg.Lookup("dup")
	require.True(t, ok)

	assert.Equal(t, 1, h.reg.Len())
	assert.NotEqual(t, d1.ConnID, d2.ConnID, "later registration should win")

	// The older connection leaving removes the shared entry.
	require.NoError(t, first.Close())
	h.disp.expect(t, "D", "dup")
	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, waitFor, 10*time.Millisecond)

	// The newer connection keeps working.
	write(t, second, "still here")
	h.disp.expect(t, "M", "[dup] still here")
}

func TestConcurrentConnectionsRegistrySize(t *testing.T) {
	h := startListener(t, nil)

	const k, j = 12, 5
	conns := make([]*tls.Conn, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := tls.Dial("tcp", h.addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // test client
			if !assert.NoError(t, err) {
				return
			}
			_, err = c.Write([]byte(fmt.Sprintf("dev-%02d", i)))
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, c := range conns {
			if c != nil {
				_ = c.Close()
			}
		}
	})

	connected := map[string]bool{}
	for i := 0; i < k; i++ {
		ev := h.disp.next(t)
		require.Equal(t, "C", ev.kind)
		connected[ev.arg] = true
	}
	require.Len(t, connected, k)
	require.Equal(t, k, h.reg.Len())

	for i := 0; i < j; i++ {
		require.NoError(t, conns[i].Close())
	}
	for i := 0; i < j; i++ {
		ev := h.disp.next(t)
		require.Equal(t, "D", ev.kind)
	}
	require.Eventually(t, func() bool { return h.reg.Len() == k-j }, waitFor, 10*time.Millisecond)
}

func TestHandshakeFailureEmitsNoLifecycle(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr string
	}{
		{"closed before id", nil, ErrNoIdentity.Error()},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}, ErrInvalidText.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startListener(t, nil)

			conn := h.dial(t)
			local := conn.LocalAddr().String()
			if tt.payload != nil {
				_, err := conn.Write(tt.payload)
				require.NoError(t, err)
			}
			require.NoError(t, conn.Close())

			ev := h.disp.next(t)
			require.Equal(t, "M", ev.kind)
			assert.True(t, strings.HasPrefix(ev.arg, "[!] Error with "+local+": "), ev.arg)
			assert.Contains(t, ev.arg, tt.wantErr)

			h.disp.expectNone(t, 150*time.Millisecond)
			assert.Equal(t, 0, h.reg.Len())
		})
	}
}

func TestInvalidMessageEndsConnection(t *testing.T) {
	h := startListener(t, nil)

	conn := h.dial(t)
	local := conn.LocalAddr().String()
	write(t, conn, "garbler")
	h.disp.expect(t, "C", "garbler")

	_, err := conn.Write([]byte{0xc3, 0x28})
	require.NoError(t, err)

	h.disp.expect(t, "M", FormatError(local, fmt.Errorf("decoding message: %w", ErrInvalidText)))
	h.disp.expect(t, "D", "garbler")
	h.disp.expectNone(t, 100*time.Millisecond)
}

func TestStopWaitsForNextAccept(t *testing.T) {
	h := startListener(t, nil)

	h.l.Stop()

	select {
	case err := <-h.done:
		t.Fatalf("Serve returned before the next accept: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	// The connection that unblocks accept is still served.
	conn := h.dial(t)
	write(t, conn, "late-arrival")

	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after the next accept")
	}
	h.done <- nil // let cleanup observe a return

	h.disp.expect(t, "C", "late-arrival")
	write(t, conn, "after stop")
	h.disp.expect(t, "M", "[late-arrival] after stop")
}

func TestStopLeavesRunningHandlers(t *testing.T) {
	h := startListener(t, nil)

	conn := h.dial(t)
	write(t, conn, "survivor")
	h.disp.expect(t, "C", "survivor")

	require.NoError(t, h.l.Close())
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after Close")
	}
	h.done <- nil

	write(t, conn, "ping")
	h.disp.expect(t, "M", "[survivor] ping")
	assert.Equal(t, int64(1), h.l.Active())

	require.NoError(t, conn.Close())
	h.disp.expect(t, "D", "survivor")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.l.Wait(ctx))
	assert.Equal(t, int64(0), h.l.Active())
}

func TestContextCancelReturnsPromptly(t *testing.T) {
	cfg := Config{Addr: "127.0.0.1:0", TLS: testTLS(t), Logger: discardLogger()}
	l := New(cfg, registry.New(), newChanDispatcher())
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after context cancel")
	}
}

func TestMaxConnsAppliesBackpressure(t *testing.T) {
	h := startListener(t, func(c *Config) { c.MaxConns = 1 })

	first := h.dial(t)
	write(t, first, "holder")
	h.disp.expect(t, "C", "holder")

	secondDone := make(chan *tls.Conn, 1)
	go func() {
		c, err := tls.Dial("tcp", h.addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // test client
		if err != nil {
			secondDone <- nil
			return
		}
		_, _ = c.Write([]byte("waiter"))
		secondDone <- c
	}()

	h.disp.expectNone(t, 200*time.Millisecond)

	require.NoError(t, first.Close())
	h.disp.expect(t, "D", "holder")
	h.disp.expect(t, "C", "waiter")

	if c := <-secondDone; c != nil {
		_ = c.Close()
	}
}

func TestListenFailsOnBusyPort(t *testing.T) {
	h := startListener(t, nil)

	other := New(Config{Addr: h.addr, TLS: testTLS(t), Logger: discardLogger()}, registry.New(), nil)
	err := other.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binding "+h.addr)
}

func TestListenRequiresTLS(t *testing.T) {
	l := New(Config{Addr: "127.0.0.1:0"}, registry.New(), nil)
	require.Error(t, l.Listen())
}

func TestServeBeforeListen(t *testing.T) {
	l := New(Config{}, registry.New(), nil)
	require.Error(t, l.Serve(context.Background()))
}

func TestLoadTLSConfig(t *testing.T) {
	cfg := testTLS(t)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	assert.Len(t, cfg.Certificates, 1)

	_, err := LoadTLSConfig(filepath.Join(t.TempDir(), "missing.pem"), "nope.pem")
	require.Error(t, err)
}

// flakyListener fails Accept with the queued errors, then reports closed.
type flakyListener struct {
	mu   sync.Mutex
	errs []error
}

func (f *flakyListener) Accept() (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return nil, net.ErrClosed
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return nil, err
}

func (f *flakyListener) Close() error   { return nil }
func (f *flakyListener) Addr() net.Addr { return &net.UnixAddr{Name: "flaky", Net: "unix"} }

func TestAcceptErrorsAreReportedAndRetried(t *testing.T) {
	disp := newChanDispatcher()
	l := New(Config{Addr: ":9000", Logger: discardLogger()}, registry.New(), disp)
	l.ln = &flakyListener{errs: []error{errors.New("too many open files"), errors.New("boom")}}

	require.NoError(t, l.Serve(context.Background()))

	disp.expect(t, "M", "Secure server started on port 9000")
	disp.expect(t, "M", "Server error: too many open files")
	disp.expect(t, "M", "Server error: boom")
	disp.expectNone(t, 50*time.Millisecond)
}

func TestNextBackoff(t *testing.T) {
	d := nextBackoff(0)
	assert.Equal(t, 5*time.Millisecond, d)
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	assert.Equal(t, maxAcceptBackoff, d)
}
