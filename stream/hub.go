// Package stream fans mutation events out to connected real-time clients.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-tracker/domain"
)

// Publisher accepts events for delivery. Delivery is best effort and never
// reports back to the caller.
type Publisher interface {
	Broadcast(ctx context.Context, ev domain.Event)
}

// Conn is one subscriber's outbound queue of encoded frames.
type Conn struct {
	ID string
	ch chan []byte
}

// Frames yields encoded events in emission order. It is closed by
// Hub.Unsubscribe.
func (c *Conn) Frames() <-chan []byte { return c.ch }

// Hub is the registry of live connections.
type Hub struct {
	buffer int

	mu    sync.RWMutex
	conns map[string]*Conn

	evicted atomic.Uint64
}

// NewHub creates a hub whose connections buffer up to buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{buffer: buffer, conns: make(map[string]*Conn)}
}

// Subscribe registers a new connection.
func (h *Hub) Subscribe() *Conn {
	c := &Conn{ID: uuid.NewString(), ch: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	return c
}

// Unsubscribe removes c and closes its frame channel. It is safe to call
// more than once.
func (h *Hub) Unsubscribe(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	delete(h.conns, c.ID)
	close(c.ch)
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Evicted returns how many connections were closed because their buffer
// was full.
func (h *Hub) Evicted() uint64 { return h.evicted.Load() }

// Broadcast encodes ev once and offers it to every connection.
func (h *Hub) Broadcast(_ context.Context, ev domain.Event) {
	frame, err := sonic.Marshal(ev)
	if err != nil {
		log.WithError(err).WithField("type", ev.Type).Error("failed to encode event")
		return
	}
	h.Send(frame)
}

// Send offers an encoded frame to every connection without blocking and
// returns how many accepted it. A connection whose buffer is full is closed
// rather than left with a gap in its stream, so every connection that stays
// open has seen every frame.
func (h *Hub) Send(frame []byte) int {
	delivered := 0
	var slow []*Conn
	h.mu.RLock()
	for _, c := range h.conns {
		select {
		case c.ch <- frame:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.evict(c)
	}
	return delivered
}

func (h *Hub) evict(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	delete(h.conns, c.ID)
	close(c.ch)
	h.evicted.Add(1)
	log.WithField("conn", c.ID).Warn("stream buffer full, connection closed")
}

// Tee forwards every event to each of its publishers in order.
type Tee []Publisher

func (t Tee) Broadcast(ctx context.Context, ev domain.Event) {
	for _, p := range t {
		if p != nil {
			p.Broadcast(ctx, ev)
		}
	}
}
