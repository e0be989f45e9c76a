package memory

import (
	"context"
	"sync"
)

// Presence tracks which students have a live feed on this instance.
type Presence struct {
	mu    sync.RWMutex
	feeds map[string]int
}

func NewPresence() *Presence {
	return &Presence{feeds: make(map[string]int)}
}

func (p *Presence) Join(_ context.Context, studentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeds[studentID]++
}

func (p *Presence) Leave(_ context.Context, studentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.feeds[studentID] <= 1 {
		delete(p.feeds, studentID)
		return
	}
	p.feeds[studentID]--
}

func (p *Presence) IsOnline(_ context.Context, studentID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.feeds[studentID] > 0, nil
}
