package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"liveclass-service/internal/domain"
)

const feedChannelPrefix = "feed:student:"

// LocalPublisher receives events relayed from Redis (normally *app.Hub).
type LocalPublisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// FeedBroker routes change events through Redis pub/sub so every instance
// can serve any student's feed.
// Events are published as: PUBLISH feed:student:{studentID} {json}
type FeedBroker struct {
	client *redis.Client
	local  LocalPublisher
	log    zerolog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewFeedBroker(client *redis.Client, local LocalPublisher, log zerolog.Logger) *FeedBroker {
	return &FeedBroker{
		client: client,
		local:  local,
		log:    log.With().Str("component", "feed_broker").Logger(),
		ready:  make(chan struct{}),
	}
}

// Publish sends ev to every instance, including this one via Run.
func (b *FeedBroker) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(ev.StudentID), data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Ready is closed once Run has its pattern subscription in place.
func (b *FeedBroker) Ready() <-chan struct{} {
	return b.ready
}

// Run relays events from Redis into the local hub until ctx is cancelled.
func (b *FeedBroker) Run(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, feedChannelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe feed channels: %w", err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info().Msg("Relaying feed events")

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Error().Err(err).Str("channel", msg.Channel).Msg("Unmarshal error")
				continue
			}
			if ev.StudentID == "" {
				ev.StudentID = strings.TrimPrefix(msg.Channel, feedChannelPrefix)
			}
			if err := b.local.Publish(ctx, ev); err != nil {
				b.log.Warn().Err(err).Str("student_id", ev.StudentID).Msg("Local publish failed")
			}
		}
	}
}

func (b *FeedBroker) channel(studentID string) string {
	return feedChannelPrefix + studentID
}
