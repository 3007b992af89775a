package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/SpinGo/internal/debug"
)

const (
	// maxRunBodyBytes caps the POST /run request body.
	maxRunBodyBytes = 1 << 20
	// MinRunInterval is the minimum time between two capture starts.
	MinRunInterval = 5 * time.Second
)

// Overrides holds capture parameters that can override config defaults.
type Overrides struct {
	ShotsPerRound int `json:"shots_per_round"`
	Exposure      int `json:"exposure"`
	Rounds        int `json:"rounds"`
}

// ValidateOverrides checks the capture parameters submitted by the form.
func ValidateOverrides(o Overrides) error {
	if o.ShotsPerRound < 1 || o.ShotsPerRound > 1000 {
		return fmt.Errorf("shots_per_round must be between 1 and 1000, got %d", o.ShotsPerRound)
	}
	if o.Exposure < 1 {
		return fmt.Errorf("exposure must be >= 1, got %d", o.Exposure)
	}
	if o.Rounds < 1 || o.Rounds > 1000 {
		return fmt.Errorf("rounds must be between 1 and 1000, got %d", o.Rounds)
	}
	return nil
}

// RunCaptureFunc runs a capture with the given overrides.
// It is called from the POST /run handler in a goroutine.
type RunCaptureFunc func(ctx context.Context, overrides Overrides) error

// FormConfig holds default values for the capture form (from config).
type FormConfig struct {
	ShotsPerRound int    `json:"shots_per_round"`
	Exposure      int    `json:"exposure"`
	Rounds        int    `json:"rounds"`
	Device        string `json:"device"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	RunCapture   RunCaptureFunc
	FormDefaults FormConfig

	runningMu sync.Mutex
	running   bool
	lastStart time.Time

	baseCtx  context.Context
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runCapture is nil, POST /run will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, runCapture RunCaptureFunc, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		RunCapture:   runCapture,
		FormDefaults: formDefaults,
		baseCtx:      context.Background(),
		staticFS:     staticFS,
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to start a capture.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var overrides Overrides
	body := http.MaxBytesReader(w, r.Body, maxRunBodyBytes)
	if err := json.NewDecoder(body).Decode(&overrides); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := ValidateOverrides(overrides); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.RunCapture == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	// One capture at a time owns the turntable session.
	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	if !h.lastStart.IsZero() && time.Since(h.lastStart) < MinRunInterval {
		h.runningMu.Unlock()
		http.Error(w, "too many requests, wait before starting another capture", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.lastStart = time.Now()
	h.runningMu.Unlock()

	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		if err := h.RunCapture(h.baseCtx, overrides); err != nil {
			h.Broadcaster.Broadcast("error", "Capture failed: "+err.Error())
			debug.Error(fmt.Errorf("capture failed: %w", err))
		} else {
			h.Broadcaster.Broadcast("info", "Sequence complete")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// Running reports whether a capture is in progress.
func (h *Handlers) Running() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
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
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
