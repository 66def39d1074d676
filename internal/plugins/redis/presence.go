package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldOnline   = "online"
	fieldLastSeen = "last_seen"
)

// RedisPresenceStore mirrors user presence into one hash per user so other
// processes can answer last-seen lookups without touching Postgres.
//
//	presence:{user_id} -> { online: "1"|"0", last_seen: <unix millis> }
type RedisPresenceStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisPresenceStore builds the store. Keys expire ttl after their last
// write; a zero ttl keeps them forever.
func NewRedisPresenceStore(rdb *redis.Client, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
		ttl: ttl,
	}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

func (p *RedisPresenceStore) UpdateUserPresence(
	ctx context.Context,
	userID string,
	online bool,
	lastSeen time.Time,
) error {
	key := presenceKey(userID)
	flag := "0"
	if online {
		flag = "1"
	}
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldOnline, flag, fieldLastSeen, lastSeen.UnixMilli())
		if p.ttl > 0 {
			pipe.Expire(ctx, key, p.ttl)
		}
		return nil
	})
	return err
}

// LastSeen returns the last recorded presence change, or nil if the user
// has no entry.
func (p *RedisPresenceStore) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	raw, err := p.rdb.HGet(ctx, presenceKey(userID), fieldLastSeen).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}
