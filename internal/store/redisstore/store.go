package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
}

// New connects and pings. The caller owns Close.
func New(addr, password string, db int) (*Store, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: c}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func presenceKey(sessionID string) string {
	return "chat:presence:" + sessionID
}

// decrement drops the field once its count reaches zero.
var decrement = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
  redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

// Connected counts one more live connection of userID in the session.
func (s *Store) Connected(ctx context.Context, sessionID string, userID uint64) error {
	return s.client.HIncrBy(ctx, presenceKey(sessionID), strconv.FormatUint(userID, 10), 1).Err()
}

func (s *Store) Disconnected(ctx context.Context, sessionID string, userID uint64) error {
	return decrement.Run(ctx, s.client, []string{presenceKey(sessionID)}, strconv.FormatUint(userID, 10)).Err()
}

// Online returns userID -> number of live connections.
func (s *Store) Online(ctx context.Context, sessionID string) (map[uint64]int, error) {
	raw, err := s.client.HGetAll(ctx, presenceKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]int, len(raw))
	for k, v := range raw {
		uid, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			continue
		}
		out[uid] = n
	}
	return out, nil
}
