package revocation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType discriminates the two revocation events fanned out over the bus.
type EventType string

const (
	EventJtiRevoked  EventType = "JtiRevoked"
	EventUserRevoked EventType = "UserRevoked"
)

// Event is published after every successful revoke* call. Delivery is
// at-least-once, best-effort; missed events are reconciled by periodic
// BloomFront.Rebuild.
type Event struct {
	Type         EventType `json:"type"`
	Jti          string    `json:"jti,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	IssuedBefore time.Time `json:"issued_before,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Bus fans revocation events out to every gateway instance over Redis
// pub/sub.
type Bus struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBus creates a Bus publishing/subscribing on channel.
func NewBus(rdb *redis.Client, channel string, logger *slog.Logger) *Bus {
	return &Bus{rdb: rdb, channel: channel, logger: logger}
}

// PublishJtiRevoked fans out a JtiRevoked event. Failures are logged and
// counted, never surfaced to the caller: the bus is best-effort and
// periodic rebuild compensates for missed deliveries.
func (b *Bus) PublishJtiRevoked(ctx context.Context, jti string, expiresAt time.Time) {
	b.publish(ctx, Event{Type: EventJtiRevoked, Jti: jti, ExpiresAt: expiresAt})
}

// PublishUserRevoked fans out a UserRevoked event.
func (b *Bus) PublishUserRevoked(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) {
	b.publish(ctx, Event{Type: EventUserRevoked, UserID: userID, IssuedBefore: issuedBefore, ExpiresAt: expiresAt})
}

func (b *Bus) publish(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("revocation bus: encoding event", "error", err, "type", ev.Type)
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.logger.Warn("revocation bus: publish failed, relying on next rebuild", "error", err, "type", ev.Type)
	}
}

// Subscribe starts consuming events until ctx is cancelled, applying each to
// front: JtiRevoked adds to the Bloom filter; UserRevoked is a no-op here
// since user-level revocation is always checked against the backend
// directly.
func (b *Bus) Subscribe(ctx context.Context, front *BloomFront) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.apply(msg.Payload, front)
		}
	}
}

func (b *Bus) apply(payload string, front *BloomFront) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn("revocation bus: dropping malformed event", "error", err)
		return
	}
	switch ev.Type {
	case EventJtiRevoked:
		front.Add(ev.Jti)
	case EventUserRevoked:
		// No Bloom update; per-user checks always hit the backend.
	default:
		b.logger.Warn("revocation bus: unknown event type", "type", ev.Type)
	}
}
