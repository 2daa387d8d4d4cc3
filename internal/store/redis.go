package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yossior/doublechess/internal/game"
)

const snapshotTTL = 24 * time.Hour

// SnapshotStore keeps the latest record of every live session in Redis,
// plus an index set of sessions still waiting for an opponent. It is
// the first tier rehydration and cross-restart matchmaking read from.
type SnapshotStore struct {
	rdb *redis.Client
}

func NewSnapshotStore(redisURL string) (*SnapshotStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for snapshot store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &SnapshotStore{rdb: rdb}, nil
}

func (s *SnapshotStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Save upserts the session record and maintains the waiting index.
func (s *SnapshotStore) Save(ctx context.Context, rec *game.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, sessionKey(rec.SessionID), raw, snapshotTTL).Err(); err != nil {
		return err
	}
	if rec.Status == game.StatusWaiting {
		if err := s.rdb.SAdd(ctx, waitingKey(), rec.SessionID).Err(); err != nil {
			return err
		}
		return s.rdb.Expire(ctx, waitingKey(), snapshotTTL).Err()
	}
	return s.rdb.SRem(ctx, waitingKey(), rec.SessionID).Err()
}

// Load returns the record for id, or nil when absent.
func (s *SnapshotStore) Load(ctx context.Context, id string) (*game.Record, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec game.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindOneWaiting returns some session still waiting for an opponent, or
// nil when none exists. Stale index entries are pruned on the way.
func (s *SnapshotStore) FindOneWaiting(ctx context.Context) (*game.Record, error) {
	ids, err := s.rdb.SMembers(ctx, waitingKey()).Result()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Status != game.StatusWaiting {
			_ = s.rdb.SRem(ctx, waitingKey(), id).Err()
			continue
		}
		return rec, nil
	}
	return nil, nil
}

// Remove drops the record and its index entry.
func (s *SnapshotStore) Remove(ctx context.Context, id string) error {
	if err := s.rdb.SRem(ctx, waitingKey(), id).Err(); err != nil {
		return err
	}
	return s.rdb.Del(ctx, sessionKey(id)).Err()
}

func sessionKey(id string) string { return "dc:session:" + strings.TrimSpace(id) }
func waitingKey() string          { return "dc:waiting" }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
