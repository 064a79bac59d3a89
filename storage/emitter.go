package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventContext describes where an event came from.
type EventContext struct {
	Actor     string    `json:"actor"`
	Transport string    `json:"transport,omitempty"`
	Caller    string    `json:"caller,omitempty"`
	At        time.Time `json:"at"`
}

// Emitter publishes change events.
type Emitter interface {
	Emit(ctx context.Context, kind, action string, payload any, meta EventContext) error
}

// LogEmitter writes every event to a zap logger.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter returns an Emitter backed by logger.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger.Named("events")}
}

func (e *LogEmitter) Emit(ctx context.Context, kind, action string, payload any, meta EventContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meta.At.IsZero() {
		meta.At = time.Now()
	}
	e.logger.Info("event",
		zap.String("kind", kind),
		zap.String("action", action),
		zap.String("actor", meta.Actor),
		zap.String("transport", meta.Transport),
		zap.String("caller", meta.Caller),
		zap.Time("at", meta.At),
		zap.Any("payload", payload),
	)
	return nil
}
