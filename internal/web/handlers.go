package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/cjeanneret/simplekbd/internal/debug"
	"github.com/cjeanneret/simplekbd/internal/keyboard"
)

const (
	defaultKeyTimeout = 30 * time.Second
	maxKeyTimeout     = 10 * time.Minute
	heartbeatInterval = 30 * time.Second
	maxBodyBytes      = 4096
)

// KeyResponse is the body of a successful GET /key.
type KeyResponse struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Device      *keyboard.Device
	Broadcaster *StatusBroadcaster
	clock       clockwork.Clock
}

// NewHandlers creates handlers with the given dependencies. A nil clock
// uses the real one.
func NewHandlers(dev *keyboard.Device, broadcaster *StatusBroadcaster, clock clockwork.Clock) *Handlers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handlers{
		Device:      dev,
		Broadcaster: broadcaster,
		clock:       clock,
	}
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, keyboard.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, keyboard.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, keyboard.ErrResourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, keyboard.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, keyboard.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		debug.Error(err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// parseTimeout reads the timeout query parameter.
func parseTimeout(r *http.Request) (time.Duration, error) {
	s := r.URL.Query().Get("timeout")
	if s == "" {
		return defaultKeyTimeout, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 || d > maxKeyTimeout {
		return 0, fmt.Errorf("%w: timeout %q must be a duration in (0, %s]", keyboard.ErrInvalidArgument, s, maxKeyTimeout)
	}
	return d, nil
}

// HandleKey handles GET /key: one blocking read on a fresh handle.
func (h *Handlers) HandleKey(w http.ResponseWriter, r *http.Request) {
	timeout, err := parseTimeout(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	hd := h.Device.Open()
	defer hd.Close()

	buf := make([]byte, 1)
	if _, err := hd.ReadContext(ctx, buf); err != nil {
		writeError(w, err)
		return
	}
	k := keyboard.KeyCode(buf[0] - '0')
	h.Broadcaster.Broadcast(LevelKey, k.String())
	writeJSON(w, http.StatusOK, KeyResponse{Key: string(buf), Name: k.String()})
}

// HandleControl handles POST /control/{command}.
func (h *Handlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["command"]
	cmd, ok := keyboard.ParseCommand(name)
	if !ok {
		debug.Info("Unknown control command %q", name)
	}

	var pins *keyboard.PinConfiguration
	if cmd == keyboard.CmdConfigPinmux {
		pins = &keyboard.PinConfiguration{}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(pins); err != nil {
			writeError(w, fmt.Errorf("%w: pin configuration: %w", keyboard.ErrInvalidArgument, err))
			return
		}
	}

	if err := h.Device.Control(cmd, pins); err != nil {
		h.Broadcaster.Broadcast(LevelError, fmt.Sprintf("control %s: %v", name, err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  h.Device.State().String(),
	})
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Device.Status())
}

// HandleSimulate handles POST /simulate/{key}. Only the mock backend
// supports it.
func (h *Handlers) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	k, err := keyboard.ParseKey(mux.Vars(r)["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Device.Simulate(k); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"simulated": k.String()})
}

// HandleEvents handles GET /events for SSE.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := h.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.Chan():
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
