package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type EventType string

const (
	LoginSucceeded EventType = "login.succeeded"
	LoginFailed    EventType = "login.failed"
	LoginBlocked   EventType = "login.blocked"
	UserRegistered EventType = "user.registered"
	UserLoggedOut  EventType = "user.logged_out"
	UserCreated    EventType = "user.created"
	UserUpdated    EventType = "user.updated"
	UserDeleted    EventType = "user.deleted"
	UserRestored   EventType = "user.restored"
	UserPurged     EventType = "user.purged"
)

// Event records a security relevant action. ActorID is the user performing it
// and TargetID the user it applies to; either is zero when unknown.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	ActorID    int64     `json:"actor_id,omitempty"`
	TargetID   int64     `json:"target_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEvent(t EventType) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the application log. It backs the audit
// trail when no Redis stream is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "audit").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	level := zerolog.InfoLevel
	switch event.Type {
	case LoginBlocked, UserPurged:
		level = zerolog.WarnLevel
	}
	p.log.WithLevel(level).
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Int64("actor_id", event.ActorID).
		Int64("target_id", event.TargetID).
		Str("email", event.Email).
		Str("detail", event.Detail).
		Time("occurred_at", event.OccurredAt).
		Msg("audit event")
	return nil
}

const payloadField = "event"

// RedisPublisher appends events to a Redis stream consumed by the worker.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"type":       string(event.Type),
			payloadField: payload,
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

var ErrMalformedMessage = errors.New("malformed audit message")

// Decode reads an event back from stream message values.
func Decode(values map[string]any) (Event, error) {
	raw, ok := values[payloadField]
	if !ok {
		return Event{}, fmt.Errorf("%w: missing %q field", ErrMalformedMessage, payloadField)
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return Event{}, fmt.Errorf("%w: unexpected payload type %T", ErrMalformedMessage, raw)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if event.ID == "" || event.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", ErrMalformedMessage)
	}
	return event, nil
}
