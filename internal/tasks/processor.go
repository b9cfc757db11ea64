package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mestredb/api/internal/audit"
)

type Archiver interface {
	Archive(ctx context.Context, event audit.Event) error
}

// Processor handles audit stream messages: each event is logged and, when an
// archiver is configured, persisted.
type Processor struct {
	logger   zerolog.Logger
	archiver Archiver
}

// NewProcessor accepts a nil archiver, in which case events are only logged.
func NewProcessor(logger zerolog.Logger, archiver Archiver) *Processor {
	return &Processor{
		logger:   logger,
		archiver: archiver,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	event, err := audit.Decode(msg.Values)
	if errors.Is(err, audit.ErrMalformedMessage) {
		// Retrying cannot fix the payload; let the consumer ack it.
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed audit message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	level := zerolog.InfoLevel
	switch event.Type {
	case audit.LoginBlocked, audit.UserPurged:
		level = zerolog.WarnLevel
	}
	p.logger.WithLevel(level).
		Str("message_id", msg.ID).
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Int64("actor_id", event.ActorID).
		Int64("target_id", event.TargetID).
		Msg("audit event received")

	if p.archiver == nil {
		return nil
	}
	if err := p.archiver.Archive(ctx, event); err != nil {
		return fmt.Errorf("archive event %s: %w", event.ID, err)
	}
	return nil
}
