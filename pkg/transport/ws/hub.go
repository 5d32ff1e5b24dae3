package ws

import (
	"log/slog"
	"sync"
)

// hub tracks which sessions are attached to which document and fans frames
// out to them. Broadcasts never block: a session that cannot drain its send
// buffer misses the frame and the drop is counted.
type hub struct {
	logger  *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func newHub(logger *slog.Logger, metrics *Metrics) *hub {
	return &hub{
		logger:  logger,
		metrics: metrics,
		rooms:   make(map[string]map[*client]struct{}),
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.docID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.docID] = room
	}
	room[c] = struct{}{}
}

// unregister removes the session and closes its send channel, which ends its
// write pump. Safe to call twice; only the first call closes the channel.
func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.docID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.docID)
	}
	close(c.send)
}

func (h *hub) broadcast(docID string, msg serverMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[docID] {
		select {
		case c.send <- msg:
		default:
			h.metrics.FramesDropped.Inc()
			h.logger.Debug("dropping frame for slow session",
				"document", docID,
				"user", c.userID,
				"frame", msg.Type)
		}
	}
}

func (h *hub) stats() (rooms, sessions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, room := range h.rooms {
		sessions += len(room)
	}
	return len(h.rooms), sessions
}
