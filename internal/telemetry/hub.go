package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
)

// defaultHistoryLimit bounds the hub's retained samples.
const defaultHistoryLimit = 500

// Hub retains a bounded sample history and fans live updates out to
// subscribers. It doubles as an http.Handler exposing the history, the
// latest sample, and a server-sent-events stream.
type Hub struct {
	mu          sync.RWMutex
	history     []Sample
	limit       int
	subscribers map[chan Sample]struct{}
}

// NewHub builds a hub retaining up to limit samples; limit <= 0 selects the
// default.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Hub{
		limit:       limit,
		subscribers: make(map[chan Sample]struct{}),
	}
}

// Report records a sample and pushes it to subscribers. Slow subscribers
// drop samples rather than stall the receive loop.
func (h *Hub) Report(s Sample) {
	h.mu.Lock()
	h.history = append(h.history, s)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of the retained samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Latest returns the most recent sample, if any.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return Sample{}, false
	}
	return h.history[len(h.history)-1], true
}

// Subscribe registers a live listener. The returned cancel func must be
// called to release it.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
}

// Handler exposes the hub over HTTP: /history, /latest, and /live for the
// event stream.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/history", h.handleHistory)
	mux.HandleFunc("/latest", h.handleLatest)
	mux.HandleFunc("/live", h.handleLive)
	return mux
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleLatest(w http.ResponseWriter, _ *http.Request) {
	s, ok := h.Latest()
	if !ok {
		http.Error(w, "no samples yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	for _, s := range h.History() {
		writeEvent(w, s)
	}
	flusher.Flush()

	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, s)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, s Sample) {
	payload, _ := json.Marshal(s)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
