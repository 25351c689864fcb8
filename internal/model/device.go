package model

import "time"

// DeviceEntry is a read-only view of a live device, as reported by the
// registry roster and the HTTP API.
type DeviceEntry struct {
	DeviceID     string    `json:"device_id"`
	ConnID       string    `json:"conn_id"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
	IdleSecs     float64   `json:"idle_secs"`
	MessageCount int64     `json:"message_count"`
	Idle         bool      `json:"idle,omitempty"` // set by the idle sweeper
}
