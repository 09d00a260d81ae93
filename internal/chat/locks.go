package chat

import (
	"context"
	"sync"
)

// sessionLocks hands out one mutex per session id. Entries are reference
// counted and dropped once nobody holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the session lock is held or ctx is done. The returned
// func releases it and must be called exactly once.
func (l *sessionLocks) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	sl := l.locks[sessionID]
	if sl == nil {
		sl = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, sl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			l.release(sessionID, sl)
		})
	}, nil
}

func (l *sessionLocks) release(sessionID string, sl *sessionLock) {
	l.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}

// size is the number of live entries; used by tests.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
