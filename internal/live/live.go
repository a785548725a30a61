// Package live publishes mid-session snapshots to Redis so the dashboard
// can show a class while it is still being monitored. Snapshots are whole
// JSON values swapped atomically; a dead session simply expires.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/classwatch/classwatch/internal/session"
	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix = "live:session:" // live:session:{id} -> snapshot JSON
	currentKey       = "live:session:current"

	// A session that stops publishing disappears after this long.
	snapshotTTL = 30 * time.Second
)

// Publisher writes a session's snapshots under its session ID and keeps the
// "current session" pointer fresh.
type Publisher struct {
	client    *redis.Client
	sessionID string
}

// NewPublisher connects to Redis and verifies it is reachable.
func NewPublisher(ctx context.Context, addr string, db int, sessionID string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Publisher{client: client, sessionID: sessionID}, nil
}

// Publish swaps in the new snapshot and refreshes both TTLs.
func (p *Publisher) Publish(ctx context.Context, snap session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, sessionKeyPrefix+p.sessionID, payload, snapshotTTL)
	pipe.Set(ctx, currentKey, p.sessionID, snapshotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// Reader fetches the current session snapshot for the dashboard.
type Reader struct {
	client *redis.Client
}

func NewReader(addr string, db int) *Reader {
	return &Reader{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// ErrNoSession reports that no session is currently publishing.
var ErrNoSession = fmt.Errorf("no live session")

// Current returns the snapshot of the session currently publishing.
func (r *Reader) Current(ctx context.Context) (session.Snapshot, error) {
	id, err := r.client.Get(ctx, currentKey).Result()
	if err == redis.Nil {
		return session.Snapshot{}, ErrNoSession
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to read current session: %w", err)
	}

	payload, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return session.Snapshot{}, ErrNoSession
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to read snapshot for session %s: %w", id, err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (r *Reader) Close() error {
	return r.client.Close()
}
