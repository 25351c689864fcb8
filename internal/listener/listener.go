// Package listener implements the TLS acceptor and the per-connection
// device handler.
//
// Every accepted connection is served by its own goroutine. The first read
// on a connection is the device's identity; every later read becomes one
// message line. Lifecycle notifications go to an events.Dispatcher and live
// connections are tracked in a registry.Registry.
//
// There is no read deadline: a connected but silent device holds its
// goroutine until the peer or the network closes the connection. Unless
// Config.MaxConns is set, the number of concurrent handlers is unbounded.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alfredjeanlab/aegis/internal/events"
	"github.com/alfredjeanlab/aegis/internal/registry"
)

const (
	// DefaultHandshakeSize caps the identity read.
	DefaultHandshakeSize = 1024
	// DefaultChunkSize caps each message read.
	DefaultChunkSize = 4096

	maxAcceptBackoff = time.Second
)

// Config configures a Listener.
type Config struct {
	// Addr is the TCP address to bind, e.g. ":9000".
	Addr string
	// TLS is the server configuration, usually from LoadTLSConfig.
	TLS *tls.Config
	// MaxConns limits concurrently served connections. 0 means unbounded.
	// While the limit is reached the acceptor stops accepting.
	MaxConns int64
	// HandshakeSize and ChunkSize override the read caps (0 = default).
	HandshakeSize int
	ChunkSize     int
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Listener accepts TLS connections and runs a handler for each.
type Listener struct {
	cfg  Config
	reg  *registry.Registry
	disp events.Dispatcher
	log  *slog.Logger
	sem  *semaphore.Weighted

	mu          sync.Mutex
	ln          net.Listener
	cancelServe context.CancelFunc

	stopping atomic.Bool
	active   atomic.Int64
	handlers sync.WaitGroup
}

// New returns an unbound Listener. Call Listen (or ListenAndServe) to bind.
func New(cfg Config, reg *registry.Registry, disp events.Dispatcher) *Listener {
	if cfg.HandshakeSize <= 0 {
		cfg.HandshakeSize = DefaultHandshakeSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if disp == nil {
		disp = events.Nop{}
	}
	l := &Listener{
		cfg:  cfg,
		reg:  reg,
		disp: disp,
		log:  cfg.Logger,
	}
	if cfg.MaxConns > 0 {
		l.sem = semaphore.NewWeighted(cfg.MaxConns)
	}
	return l
}

// Listen binds the configured address with TLS.
func (l *Listener) Listen() error {
	if l.cfg.TLS == nil {
		return errors.New("listener: no TLS configuration")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return errors.New("listener: already listening")
	}

	ln, err := tls.Listen("tcp", l.cfg.Addr, l.cfg.TLS)
	if err != nil {
		return fmt.Errorf("binding %s: %w", l.cfg.Addr, err)
	}
	l.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// ListenAndServe binds and then serves until ctx is cancelled or the
// listener is stopped or closed.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve runs the accept loop on the bound socket.
//
// Stop is checked once per iteration, after each accepted connection has
// been handed to its goroutine, so a Serve blocked in accept keeps waiting
// until the next connection arrives. Cancelling ctx or calling Close closes
// the socket and makes Serve return promptly. In every case handlers that
// are already running are left alone; use Wait to drain them.
//
// Serve returns nil when it exits because of Stop, Close or ctx.
func (l *Listener) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	ln := l.ln
	l.cancelServe = cancel
	l.mu.Unlock()
	if ln == nil {
		return errors.New("listener: Serve called before Listen")
	}
	defer l.closeSocket(ln)

	serveDone := make(chan struct{})
	defer close(serveDone)
	go func() {
		select {
		case <-ctx.Done():
			l.closeSocket(ln)
		case <-serveDone:
		}
	}()

	port := portOf(ln.Addr(), l.cfg.Addr)
	l.log.Info("listener: serving", "addr", ln.Addr().String(), "max_conns", l.cfg.MaxConns)
	l.disp.OnMessage("Secure server started on port " + port)

	var backoff time.Duration
	for !l.stopping.Load() {
		if l.sem != nil {
			if err := l.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			l.release()
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				l.log.Info("listener: socket closed, accept loop exiting")
				return nil
			}

			l.disp.OnMessage(fmt.Sprintf("Server error: %v", err))
			backoff = nextBackoff(backoff)
			l.log.Warn("listener: accept failed", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		l.handlers.Add(1)
		l.active.Add(1)
		go l.handle(conn)
	}

	l.log.Info("listener: stop requested, accept loop exiting")
	return nil
}

// Stop asks the accept loop to exit after its current accept returns.
// It does not close the socket or interrupt running handlers.
func (l *Listener) Stop() {
	l.stopping.Store(true)
}

// Close stops the accept loop and closes the socket so a pending accept
// returns immediately. Running handlers are not closed.
func (l *Listener) Close() error {
	l.stopping.Store(true)

	l.mu.Lock()
	ln, cancel := l.ln, l.cancelServe
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing listener: %w", err)
	}
	return nil
}

// Wait blocks until every running handler has exited or ctx is done.
// Call it after Serve has returned.
func (l *Listener) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running connection handlers.
func (l *Listener) Active() int64 {
	return l.active.Load()
}

func (l *Listener) closeSocket(ln net.Listener) {
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.log.Warn("listener: close error", "err", err)
	}
}

func (l *Listener) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

// portOf reports the bound port, falling back to the configured address for
// listeners that are not TCP.
func portOf(addr net.Addr, configured string) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return strconv.Itoa(tcp.Port)
	}
	if _, port, err := net.SplitHostPort(configured); err == nil {
		return port
	}
	return configured
}
