// Package client provides the interface the aegis CLI uses to query a running
// command center, with an HTTP/JSON implementation of the full API and a gRPC
// implementation of the health check.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// HealthChecker reports the serving status of a command center. Both
// transports implement it.
type HealthChecker interface {
	// Health returns "ok" when the server is serving.
	Health(ctx context.Context) (string, error)
	Close() error
}

// Client is the read API of a running command center.
type Client interface {
	HealthChecker

	Status(ctx context.Context) (*StatusResponse, error)
	ListDevices(ctx context.Context) (*ListDevicesResponse, error)
	GetDevice(ctx context.Context, id string) (*model.DeviceEntry, error)
	ListLogs(ctx context.Context, filter model.LogFilter) (*ListLogsResponse, error)
}

// StatusResponse mirrors GET /v1/status.
type StatusResponse struct {
	Status         string  `json:"status"`
	Port           string  `json:"port"`
	Devices        int     `json:"devices"`
	ConsoleDevices int     `json:"console_devices"`
	ActiveConns    int64   `json:"active_conns"`
	LogCount       int64   `json:"log_count"`
	StreamClients  int     `json:"stream_clients"`
	UptimeSecs     float64 `json:"uptime_secs"`
}

// Uptime returns UptimeSecs as a duration truncated to the second.
func (s *StatusResponse) Uptime() time.Duration {
	return (time.Duration(s.UptimeSecs * float64(time.Second))).Truncate(time.Second)
}

// ListDevicesResponse mirrors GET /v1/devices.
type ListDevicesResponse struct {
	Devices []model.DeviceEntry `json:"devices"`
	Count   int                 `json:"count"`
}

// ListLogsResponse mirrors GET /v1/logs.
type ListLogsResponse struct {
	Logs  []*model.LogRecord `json:"logs"`
	Count int                `json:"count"`
}
