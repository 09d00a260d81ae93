package chat

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSessionLocks_SerializesSameSession(t *testing.T) {
	locks := newSessionLocks()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), "s1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", n)
	}
}

func TestSessionLocks_IndependentSessions(t *testing.T) {
	locks := newSessionLocks()

	unlockA, err := locks.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b should not wait on a: %v", err)
	}
	unlockB()
}

func TestSessionLocks_ContextCancel(t *testing.T) {
	locks := newSessionLocks()

	unlock, err := locks.Lock(context.Background(), "s")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "s"); err == nil {
		t.Fatal("expected timeout while lock is held")
	}

	unlock()
	unlock() // second call is a no-op
	if n := locks.size(); n != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", n)
	}
}
