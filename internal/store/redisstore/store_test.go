package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real server: REDIS_TEST_ADDR=127.0.0.1:6379 go test ./...
func openTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s, err := New(addr, os.Getenv("REDIS_TEST_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPresence_CountsConnections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sid := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = s.client.Del(context.Background(), presenceKey(sid)).Err() })

	require.NoError(t, s.Connected(ctx, sid, 1))
	require.NoError(t, s.Connected(ctx, sid, 1))
	require.NoError(t, s.Connected(ctx, sid, 2))

	online, err := s.Online(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{1: 2, 2: 1}, online)

	require.NoError(t, s.Disconnected(ctx, sid, 2))
	require.NoError(t, s.Disconnected(ctx, sid, 1))

	online, err = s.Online(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{1: 1}, online)

	// extra disconnects never leave a negative count behind
	require.NoError(t, s.Disconnected(ctx, sid, 1))
	require.NoError(t, s.Disconnected(ctx, sid, 1))
	online, err = s.Online(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestPresenceKey(t *testing.T) {
	assert.Equal(t, "chat:presence:01ABC", presenceKey("01ABC"))
}
