package app

import (
	"context"
	"sync"

	"liveclass-service/internal/domain"
)

// Hub fans change events out to the live feeds of each student on this instance.
type Hub struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]map[chan domain.ChangeEvent]struct{}
}

// NewHub returns a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer:      buffer,
		subscribers: make(map[string]map[chan domain.ChangeEvent]struct{}),
	}
}

// Subscribe returns a channel of events for studentID.
// The caller must invoke the returned cancel function to avoid leaks.
// The channel is closed if the subscriber falls behind, so the client
// reconnects and refetches rather than missing rows.
func (h *Hub) Subscribe(studentID string) (<-chan domain.ChangeEvent, func()) {
	ch := make(chan domain.ChangeEvent, h.buffer)

	h.mu.Lock()
	subs, ok := h.subscribers[studentID]
	if !ok {
		subs = make(map[chan domain.ChangeEvent]struct{})
		h.subscribers[studentID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.removeLocked(studentID, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every local subscriber of its student.
func (h *Hub) Publish(_ context.Context, ev domain.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[ev.StudentID] {
		select {
		case ch <- ev:
		default:
			h.removeLocked(ev.StudentID, ch)
		}
	}
	return nil
}

// Subscribers counts the live feeds of studentID.
func (h *Hub) Subscribers(studentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[studentID])
}

func (h *Hub) removeLocked(studentID string, ch chan domain.ChangeEvent) {
	subs, ok := h.subscribers[studentID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, studentID)
	}
}
