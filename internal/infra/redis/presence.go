package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence counts live feeds per student in Redis so any instance can answer.
// Counter is stored as: feed:presence:{studentID} -> number of open feeds (with TTL).
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

// Join marks one more open feed; best effort.
func (p *Presence) Join(ctx context.Context, studentID string) {
	pipe := p.client.TxPipeline()
	pipe.Incr(ctx, p.key(studentID))
	if p.ttl > 0 {
		pipe.Expire(ctx, p.key(studentID), p.ttl)
	}
	_, _ = pipe.Exec(ctx)
}

// Leave marks one feed closed and clears the key when none remain; best effort.
func (p *Presence) Leave(ctx context.Context, studentID string) {
	n, err := p.client.Decr(ctx, p.key(studentID)).Result()
	if err == nil && n <= 0 {
		_ = p.client.Del(ctx, p.key(studentID)).Err()
	}
}

func (p *Presence) IsOnline(ctx context.Context, studentID string) (bool, error) {
	n, err := p.client.Get(ctx, p.key(studentID)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Presence) key(studentID string) string {
	return "feed:presence:" + studentID
}
