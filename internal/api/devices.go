package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
)

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - capability: only Connected devices that render this effect type
//   - state: connection state (connected, error, ...)
//   - transport: transport kind (serial, mqtt, ...)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var devices []device.Device
	if capStr := q.Get("capability"); capStr != "" {
		t := effect.Type(capStr)
		if !t.Valid() {
			writeBadRequest(w, "unknown capability: "+capStr)
			return
		}
		devices = s.registry.FindByCapability(t)
	} else {
		devices = s.registry.List()
	}

	state := device.ConnectionState(q.Get("state"))
	transport := device.TransportKind(q.Get("transport"))
	if state != "" || transport != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if state != "" && d.State != state {
				continue
			}
			if transport != "" && d.Transport != transport {
				continue
			}
			filtered = append(filtered, d)
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers and connects a device. A device that fails
// to connect is still created and reported in state error.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.Register(r.Context(), &dev); err != nil {
		switch {
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
		default:
			s.logger.Error("device registration failed", "device_id", dev.ID, "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	if registered, err := s.registry.Lookup(dev.ID); err == nil {
		dev = *registered
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleDeleteDevice deregisters a device by ID.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Deregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReconnectDevice restarts the reconnect loop for a device.
func (s *Server) handleReconnectDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Reconnect(id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to reconnect device")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "reconnecting"})
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// maxHistoryLimit caps the limit parameter of handleGetDeviceHistory.
const maxHistoryLimit = 200

// handleGetDeviceHistory returns a device's connection state changes,
// newest first.
//
// Query parameters:
//   - limit: maximum changes, 1 to 200 (default 50)
//   - since: RFC 3339 timestamp; only later changes are returned
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeBadRequest(w, "limit must be an integer between 1 and 200")
			return
		}
		limit = n
	}

	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	if _, err := s.registry.Lookup(id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history unavailable")
		return
	}

	history, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("loading device history failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	if !since.IsZero() {
		filtered := history[:0]
		for _, c := range history {
			if c.At.After(since) {
				filtered = append(filtered, c)
			}
		}
		history = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   history,
		"count":     len(history),
	})
}
