package dispatch

import (
	"log/slog"
	"runtime"

	"github.com/c360/twinflow/envelope"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/stream"
)

const (
	defaultQueueCapacity = 1000
	defaultLaneBuffer    = 16
)

// Config configures an Engine.
type Config[T, O any] struct {
	// QueueCapacity bounds the admission queue. Defaults to 1000.
	QueueCapacity int

	// Lanes is the number of hash lanes; 0 means runtime.NumCPU(). The engine
	// runs Lanes+1 pipelines including the special lane.
	Lanes int

	// LaneBuffer is the hand-off capacity between the dispatcher and each lane.
	// Defaults to 16.
	LaneBuffer int

	// EntityID extracts a message's entity identifier. Required.
	EntityID func(T) (string, bool)

	// SpecialLane reports the special-lane marker. Optional.
	SpecialLane func(T) bool

	// Hash overrides the entity-ID hash (xxhash64).
	Hash func(string) uint64

	// PreProcess runs on every message before partitioning. Required.
	PreProcess func(envelope.Envelope[T]) envelope.Envelope[T]

	// Pipeline builds a lane's processing flow. Exactly one of Pipeline and
	// Handler must be set; a Handler is run through Guard.
	Pipeline func(lane int) stream.Flow[envelope.Envelope[T], O]
	Handler  Handler[T, O]

	// InternalError builds the reply for a Handler failure.
	InternalError InternalErrorBuilder[T]

	// Sink receives every lane output, from a single goroutine. Required.
	Sink func(O)

	Logger *slog.Logger
}

func (c Config[T, O]) withDefaults() Config[T, O] {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Lanes == 0 {
		c.Lanes = runtime.NumCPU()
	}
	if c.LaneBuffer == 0 {
		c.LaneBuffer = defaultLaneBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config[T, O]) Validate() error {
	switch {
	case c.QueueCapacity < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "Validate", "queue capacity must not be negative")
	case c.Lanes < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "Validate", "lanes must not be negative")
	case c.LaneBuffer < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "Validate", "lane buffer must not be negative")
	case c.EntityID == nil:
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Validate", "entity id extractor required")
	case c.PreProcess == nil:
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Validate", "pre-processing hook required")
	case c.Sink == nil:
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Validate", "sink required")
	case (c.Pipeline == nil) == (c.Handler == nil):
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "Validate", "exactly one of pipeline and handler required")
	}
	return nil
}
