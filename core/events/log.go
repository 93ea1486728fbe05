package events

import (
	"log/slog"

	"grainpay/core/types"
)

// materializer is satisfied by payloads that can render themselves as a
// wire-level event with string attributes.
type materializer interface {
	Event() *types.Event
}

// LogEmitter writes every emitted event to the supplied structured
// logger. The node uses it so state transitions land in the service logs
// alongside request handling.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter wraps a logger; a nil logger falls back to slog.Default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event type and attributes at info level.
func (l *LogEmitter) Emit(event Event) {
	if event == nil {
		return
	}
	logger := l.logger.With("event", event.EventType())
	payload, ok := event.(materializer)
	if !ok {
		logger.Info("state transition")
		return
	}
	evt := payload.Event()
	if evt == nil {
		logger.Info("state transition")
		return
	}
	args := make([]any, 0, len(evt.Attributes)*2)
	for key, value := range evt.Attributes {
		args = append(args, key, value)
	}
	logger.Info("state transition", args...)
}
