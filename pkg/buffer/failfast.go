package buffer

import (
	"context"
	"log/slog"

	"github.com/c360/twinflow/envelope"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/stream"
)

// OverloadBuilder builds the notification sent to an envelope's reply handle when
// it arrives at a full buffer. It sees the whole envelope so it can carry the
// message's headers or deadline.
type OverloadBuilder[T any] func(env envelope.Envelope[T]) any

// FailFast decouples a fast producer from a slow consumer without ever
// backpressuring the producer. It always pulls upstream; elements queue without
// bound and leave in arrival order. An element that arrives while exactly
// maxSize elements are queued still gets admitted, and its sender is told it is
// overloaded.
type FailFast[T any] struct {
	maxSize  int
	overload OverloadBuilder[T]

	stats   *Statistics
	metrics *bufferMetrics
	logger  *slog.Logger
	opts    *bufferOptions
}

// NewFailFast creates a fail-fast buffer. The returned value is a factory: every
// call to Flow materializes an independent queue sharing the same statistics.
func NewFailFast[T any](maxSize int, overload OverloadBuilder[T], opts ...Option) (*FailFast[T], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "FailFast", "NewFailFast",
			"max size must be positive")
	}
	if overload == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "FailFast", "NewFailFast",
			"overload builder required")
	}

	options := applyOptions(opts...)

	var metrics *bufferMetrics
	if options.metricsReg != nil && options.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(options.metricsReg, options.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "FailFast", "NewFailFast", "metrics registration")
		}
	}

	return &FailFast[T]{
		maxSize:  maxSize,
		overload: overload,
		stats:    NewStatistics(),
		metrics:  metrics,
		logger:   options.logger,
		opts:     options,
	}, nil
}

// Flow returns the buffer as a pipeline segment.
func (b *FailFast[T]) Flow() stream.Flow[envelope.Envelope[T], envelope.Envelope[T]] {
	return func(ctx context.Context, in *stream.Pipe[envelope.Envelope[T]]) *stream.Pipe[envelope.Envelope[T]] {
		return stream.Via[envelope.Envelope[T], envelope.Envelope[T]](ctx, in, b.newLogic(ctx))
	}
}

// Stats returns buffer statistics (always available for observability).
func (b *FailFast[T]) Stats() *Statistics {
	return b.stats
}

// MaxSize returns the notification threshold.
func (b *FailFast[T]) MaxSize() int {
	return b.maxSize
}

func (b *FailFast[T]) newLogic(ctx context.Context) *failFastLogic[T] {
	return &failFastLogic[T]{
		ctx:    ctx,
		buffer: b,
		queue:  NewQueue[envelope.Envelope[T]](b.opts.initialCapacity),
	}
}

// failFastLogic is one lane's buffer. A waiting consumer is represented by the
// output port being available.
type failFastLogic[T any] struct {
	ctx    context.Context
	buffer *FailFast[T]
	queue  *Queue[envelope.Envelope[T]]
}

func (l *failFastLogic[T]) OnStart(ports stream.Ports[envelope.Envelope[T]]) {
	ports.Pull()
}

func (l *failFastLogic[T]) OnPush(env envelope.Envelope[T], ports stream.Ports[envelope.Envelope[T]]) {
	l.buffer.stats.Admit()
	if l.buffer.metrics != nil {
		l.buffer.metrics.recordAdmit()
	}

	if l.queue.Len() == l.buffer.maxSize && env.HasReplyTo() {
		l.notifyOverload(env)
	}

	if ports.IsAvailable() {
		l.deliver(env, ports)
	} else {
		l.queue.Push(env)
		size := l.buffer.stats.Enqueue()
		if l.buffer.metrics != nil {
			l.buffer.metrics.updateSize(size)
		}
	}

	ports.Pull()
}

func (l *failFastLogic[T]) OnPull(ports stream.Ports[envelope.Envelope[T]]) {
	if env, ok := l.queue.Pop(); ok {
		size := l.buffer.stats.Dequeue()
		if l.buffer.metrics != nil {
			l.buffer.metrics.updateSize(size)
		}
		l.deliver(env, ports)
	}

	if l.queue.IsEmpty() && ports.IsUpstreamClosed() {
		ports.Complete()
	}
}

func (l *failFastLogic[T]) OnUpstreamFinish(ports stream.Ports[envelope.Envelope[T]]) {
	if l.queue.IsEmpty() {
		ports.Complete()
	}
}

func (l *failFastLogic[T]) deliver(env envelope.Envelope[T], ports stream.Ports[envelope.Envelope[T]]) {
	ports.Push(env)
	l.buffer.stats.Deliver()
	if l.buffer.metrics != nil {
		l.buffer.metrics.recordDeliver()
	}
}

func (l *failFastLogic[T]) notifyOverload(env envelope.Envelope[T]) {
	l.buffer.stats.Overload()
	if l.buffer.metrics != nil {
		l.buffer.metrics.recordOverload()
	}

	if _, err := env.Tell(l.ctx, l.buffer.overload(env)); err != nil {
		l.buffer.stats.TellError()
		l.buffer.logger.Debug("overload notification failed",
			"max_size", l.buffer.maxSize, "error", err)
	}
}
