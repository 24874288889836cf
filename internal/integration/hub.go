package integration

import (
	"sync"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

// Hub fans events out to live subscribers such as websocket clients. A slow
// subscriber misses events rather than stalling the others.
type Hub struct {
	mu   sync.Mutex
	subs map[chan *models.EventLog]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan *models.EventLog]struct{})}
}

// Subscribe registers a subscriber with a buffer of size buf. The returned
// cancel function unregisters it and closes the channel.
func (h *Hub) Subscribe(buf int) (<-chan *models.EventLog, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan *models.EventLog, buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) broadcast(e *models.EventLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
