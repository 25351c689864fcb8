// Package device is the device side of the listener protocol: a TLS client
// that announces its id and then writes raw message chunks. The command
// center frames nothing, so the client pauses after the handshake to keep
// the id and the first message in separate reads.
package device

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// DefaultHandshakeDelay is the pause between the handshake and the first
// message.
const DefaultHandshakeDelay = time.Second

// Config configures a device connection.
type Config struct {
	Addr     string
	DeviceID string
	// TLS is the client configuration. Nil means no certificate verification,
	// matching a listener running on a self-signed certificate.
	TLS *tls.Config
	// HandshakeDelay overrides DefaultHandshakeDelay. Negative disables it.
	HandshakeDelay time.Duration
	DialTimeout    time.Duration
}

// Conn is an established device session.
type Conn struct {
	conn     *tls.Conn
	deviceID string
}

// Dial connects, completes the TLS handshake and sends the device id. The id
// is trimmed first, as the listener trims it, so DeviceID matches the
// registry key.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	id := strings.TrimSpace(cfg.DeviceID)
	if err := model.ValidateDeviceID(id); err != nil {
		return nil, err
	}

	tlsCfg := cfg.TLS
	if tlsCfg == nil {
		tlsCfg = &tls.Config{InsecureSkipVerify: true}
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: cfg.DialTimeout},
		Config:    tlsCfg,
	}
	nc, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	conn := nc.(*tls.Conn)

	if _, err := conn.Write([]byte(id)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send device id: %w", err)
	}

	delay := cfg.HandshakeDelay
	if delay == 0 {
		delay = DefaultHandshakeDelay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		}
	}

	return &Conn{conn: conn, deviceID: id}, nil
}

// Send writes one message. The listener reports it as "[id] msg" if it
// arrives in a single read.
func (c *Conn) Send(msg string) error {
	if msg == "" {
		return errors.New("device: empty message")
	}
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// DeviceID returns the id announced in the handshake.
func (c *Conn) DeviceID() string { return c.deviceID }

// Close ends the session; the listener sees EOF and disconnects the device.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// LoadRootCA returns a client TLS config that trusts only the PEM
// certificate(s) in caFile.
func LoadRootCA(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
