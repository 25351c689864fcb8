package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/alfredjeanlab/aegis/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header. Every request is logged at
// debug level on the CommandCenter's logger.
func (c *CommandCenter) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", c.handleHealth)
	mux.HandleFunc("GET /v1/status", c.handleStatus)
	mux.HandleFunc("GET /v1/devices", c.handleListDevices)
	mux.HandleFunc("GET /v1/devices/{id}", c.handleGetDevice)
	mux.HandleFunc("GET /v1/logs", c.handleListLogs)
	mux.HandleFunc("GET /v1/events/stream", c.handleEventStream)
	return AccessLogMiddleware(c.log, AuthMiddleware(authToken, mux))
}

// StatusResponse is the body of GET /v1/status.
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

// handleHealth handles GET /v1/health.
func (c *CommandCenter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /v1/status.
func (c *CommandCenter) handleStatus(w http.ResponseWriter, r *http.Request) {
	c.Reconcile()

	resp := StatusResponse{
		Status:         c.StatusLine(),
		Port:           c.port,
		Devices:        c.ConnectedCount(),
		ConsoleDevices: len(c.View()),
		StreamClients:  c.sseHub.clientCount(),
		UptimeSecs:     time.Since(c.startedAt).Seconds(),
	}
	if c.activeConns != nil {
		resp.ActiveConns = c.activeConns()
	}
	if c.store != nil {
		n, err := c.store.CountLogs(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		resp.LogCount = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListDevices handles GET /v1/devices.
func (c *CommandCenter) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := []model.DeviceEntry{}
	if c.registry != nil {
		devices = c.registry.Roster()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice handles GET /v1/devices/{id}.
func (c *CommandCenter) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if c.registry != nil {
		for _, d := range c.registry.Roster() {
			if d.DeviceID == id {
				writeJSON(w, http.StatusOK, d)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "device not connected")
}

// handleListLogs handles GET /v1/logs.
func (c *CommandCenter) handleListLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := model.ValidateLogFilter(filter); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := c.store.ListLogs(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if logs == nil {
		logs = []*model.LogRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func parseLogFilter(r *http.Request) (model.LogFilter, error) {
	q := r.URL.Query()
	f := model.LogFilter{
		DeviceID:  q.Get("device_id"),
		EventType: model.EventType(q.Get("event_type")),
	}
	if v := q.Get("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("invalid after_id")
		}
		f.AfterID = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "log store closed")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
