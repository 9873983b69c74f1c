package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/capsulemarket/capsule/internal/domain"
)

// ─── Live Capsule Feed ──────────────────────────────────────────────────────
// Server-Sent Events stream of reward releases, for the "capsules raining"
// screen in the client. SSE rather than WebSocket: one-directional traffic
// and HTTP/2 friendly.

// CapsuleHub fans release events out to connected SSE clients.
type CapsuleHub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewCapsuleHub creates an empty hub.
func NewCapsuleHub() *CapsuleHub {
	return &CapsuleHub{clients: make(map[chan []byte]struct{})}
}

// ReleaseEvent is one reward release on the live feed.
type ReleaseEvent struct {
	Type      string `json:"type"` // "capsules_released"
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	TaskType  string `json:"task_type"`
	Timestamp int64  `json:"timestamp"` // Unix epoch
}

// BroadcastRelease implements submission.Broadcaster.
func (h *CapsuleHub) BroadcastRelease(userID string, amount int64, taskType domain.TaskType) {
	data, err := json.Marshal(ReleaseEvent{
		Type:      "capsules_released",
		UserID:    userID,
		Amount:    amount,
		TaskType:  string(taskType),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// Client too slow; drop the event.
		}
	}
}

// Subscribe registers a client. Returns the channel and an unsubscribe func.
func (h *CapsuleHub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (h *CapsuleHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleFeedSSE serves the live release feed.
// GET /api/feed/live
func (h *CapsuleHub) HandleFeedSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	ch, unsub := h.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
