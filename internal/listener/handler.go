package listener

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alfredjeanlab/aegis/internal/idgen"
	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/alfredjeanlab/aegis/internal/registry"
)

var (
	// ErrHandshake wraps every identity handshake failure.
	ErrHandshake = errors.New("handshake failed")
	// ErrNoIdentity means the peer closed before sending its device id.
	ErrNoIdentity = errors.New("connection closed before device id was sent")
	// ErrInvalidText means a read was not valid UTF-8.
	ErrInvalidText = errors.New("invalid UTF-8")
)

// handle serves one connection until the peer goes away.
//
// On success the dispatcher sees OnConnected, any number of OnMessage calls,
// then OnDisconnected, in that order. A failed handshake reports the error
// line only: no device was announced, so none is withdrawn.
func (l *Listener) handle(conn net.Conn) {
	defer l.handlers.Done()
	defer l.active.Add(-1)
	defer l.release()

	peer := conn.RemoteAddr().String()
	connID := idgen.ConnID()
	log := l.log.With("conn_id", connID, "peer", peer)

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("listener: close connection", "err", err)
		}
	}()

	deviceID, err := l.handshake(conn)
	if err != nil {
		log.Warn("listener: handshake failed", "err", err)
		l.reportError(peer, err)
		return
	}
	log = log.With("device_id", deviceID)

	l.reg.Register(&registry.Device{
		ID:          deviceID,
		ConnID:      connID,
		RemoteAddr:  peer,
		ConnectedAt: time.Now().UTC(),
		Conn:        conn,
	})
	l.disp.OnConnected(deviceID)
	log.Info("listener: device connected")

	defer func() {
		l.disp.OnDisconnected(deviceID)
		l.reg.Unregister(deviceID)
		log.Info("listener: device disconnected")
	}()

	if err := l.readLoop(conn, deviceID); err != nil {
		log.Warn("listener: connection error", "err", err)
		l.reportError(peer, err)
	}
}

// handshake reads the device id: one read of at most HandshakeSize bytes,
// whitespace-trimmed. Bytes read in the same call as the id are part of it.
// An id that trims to "" is accepted and registered as the empty device;
// only a failed read or undecodable bytes fail the handshake.
func (l *Listener) handshake(conn net.Conn) (string, error) {
	buf := make([]byte, l.cfg.HandshakeSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %w", ErrHandshake, ErrNoIdentity)
		}
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	raw := buf[:n]
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: device id: %w", ErrHandshake, ErrInvalidText)
	}
	return strings.TrimSpace(string(raw)), nil
}

// readLoop emits one message line per read until EOF or an error.
// A nil return means the peer closed the connection cleanly.
func (l *Listener) readLoop(conn net.Conn, deviceID string) error {
	buf := make([]byte, l.cfg.ChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if !utf8.Valid(chunk) {
				return fmt.Errorf("decoding message: %w", ErrInvalidText)
			}
			l.reg.Touch(deviceID)
			l.disp.OnMessage(model.FormatMessageLine(deviceID, string(chunk)))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (l *Listener) reportError(peer string, err error) {
	l.disp.OnMessage(FormatError(peer, err))
}

// FormatError renders a per-connection failure as it appears on the
// message channel.
func FormatError(peer string, err error) string {
	return fmt.Sprintf("[!] Error with %s: %v", peer, err)
}
