package realtime

import (
	"context"
	"sync"
)

// LocalPresence is the in-process Presence used when Redis is not configured.
// It only sees connections served by this process.
type LocalPresence struct {
	mu     sync.Mutex
	counts map[string]map[uint64]int
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{counts: make(map[string]map[uint64]int)}
}

func (p *LocalPresence) Connected(ctx context.Context, sessionID string, userID uint64) error {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	users := p.counts[sessionID]
	if users == nil {
		users = make(map[uint64]int)
		p.counts[sessionID] = users
	}
	users[userID]++
	return nil
}

func (p *LocalPresence) Disconnected(ctx context.Context, sessionID string, userID uint64) error {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	users := p.counts[sessionID]
	if users == nil {
		return nil
	}
	if users[userID] <= 1 {
		delete(users, userID)
	} else {
		users[userID]--
	}
	if len(users) == 0 {
		delete(p.counts, sessionID)
	}
	return nil
}

func (p *LocalPresence) Online(ctx context.Context, sessionID string) (map[uint64]int, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint64]int, len(p.counts[sessionID]))
	for uid, n := range p.counts[sessionID] {
		out[uid] = n
	}
	return out, nil
}
