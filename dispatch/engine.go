package dispatch

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/twinflow/envelope"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/metric"
	"github.com/c360/twinflow/stream"
)

// Engine turns one inbox into Lanes+1 ordered, concurrently running lanes.
//
// Submit offers a message to a bounded admission queue without blocking. A
// dispatcher goroutine pre-processes each queued message, assigns it a lane and
// hands it to that lane's pipeline. Lane outputs are fanned in to the sink.
// Messages sharing an entity ID are processed in submission order; across lanes
// there is no ordering.
type Engine[T, O any] struct {
	cfg         Config[T, O]
	partitioner Partitioner[T]

	admission chan envelope.Envelope[T]
	lanes     []chan envelope.Envelope[T]
	fanIn     chan O
	done      chan struct{}
	err       error // set before done is closed

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	received     atomic.Int64
	enqueued     atomic.Int64
	dropped      atomic.Int64
	failed       atomic.Int64
	dequeued     atomic.Int64
	laneFailures atomic.Int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
	metrics         *engineMetrics
}

// Option represents a configuration option for the engine.
type Option[T, O any] func(*Engine[T, O])

// WithMetricsRegistry registers the engine's counters with the registry under prefix.
func WithMetricsRegistry[T, O any](registry *metric.MetricsRegistry, prefix string) Option[T, O] {
	return func(e *Engine[T, O]) {
		e.metricsRegistry = registry
		e.metricsPrefix = prefix
	}
}

// NewEngine creates an engine. Nothing runs until Start.
func NewEngine[T, O any](cfg Config[T, O], opts ...Option[T, O]) (*Engine[T, O], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine[T, O]{
		cfg: cfg,
		partitioner: Partitioner[T]{
			Lanes:       cfg.Lanes,
			EntityID:    cfg.EntityID,
			SpecialLane: cfg.SpecialLane,
			Hash:        cfg.Hash,
		},
		admission: make(chan envelope.Envelope[T], cfg.QueueCapacity),
		lanes:     make([]chan envelope.Envelope[T], cfg.Lanes+1),
		fanIn:     make(chan O, cfg.Lanes+1),
		done:      make(chan struct{}),
	}
	for i := range e.lanes {
		e.lanes[i] = make(chan envelope.Envelope[T], cfg.LaneBuffer)
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metricsRegistry != nil && e.metricsPrefix != "" {
		metrics, err := newEngineMetrics(e.metricsRegistry, e.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Engine", "NewEngine", "metrics registration")
		}
		e.metrics = metrics
	}

	return e, nil
}

// Submit offers msg to the admission queue. It never blocks: a full queue drops
// the message. replyTo may be nil.
func (e *Engine[T, O]) Submit(msg T, replyTo envelope.Recipient) AdmissionOutcome {
	e.received.Add(1)
	if e.metrics != nil {
		e.metrics.received.Inc()
	}

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.started {
		return e.fail(errors.ErrNotStarted)
	}
	if e.stopped {
		return e.fail(errors.ErrQueueClosed)
	}

	select {
	case e.admission <- envelope.Of(msg, replyTo):
		e.enqueued.Add(1)
		if e.metrics != nil {
			e.metrics.enqueued.Inc()
			e.metrics.queueDepth.Set(float64(len(e.admission)))
		}
		return AdmissionOutcome{Admission: Enqueued}
	default:
		e.dropped.Add(1)
		if e.metrics != nil {
			e.metrics.dropped.Inc()
		}
		return AdmissionOutcome{Admission: Dropped, Cause: errors.ErrQueueFull}
	}
}

func (e *Engine[T, O]) fail(cause error) AdmissionOutcome {
	e.failed.Add(1)
	if e.metrics != nil {
		e.metrics.failed.Inc()
	}
	return AdmissionOutcome{Admission: Failed, Cause: cause}
}

// Start launches the dispatcher, one pipeline per lane, and the fan-in. Cancelling
// ctx tears everything down without draining.
func (e *Engine[T, O]) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.started {
		return errors.ErrAlreadyStarted
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.dispatch(gctx)
	})
	for lane := range e.lanes {
		g.Go(func() error {
			return e.runLane(gctx, lane)
		})
	}

	go func() {
		err := g.Wait()
		if err != nil && ctx.Err() == nil {
			e.cfg.Logger.Error("dispatch engine stopped with error", "error", err)
		}
		e.err = err
		close(e.fanIn)
	}()

	go func() {
		for out := range e.fanIn {
			e.cfg.Sink(out)
		}
		close(e.done)
	}()

	e.started = true
	e.cfg.Logger.Debug("dispatch engine started",
		"lanes", e.cfg.Lanes, "queue_capacity", e.cfg.QueueCapacity)
	return nil
}

// Stop closes admission and waits up to timeout for every queued and in-flight
// message to drain through the sink. Later submissions fail with
// errors.ErrQueueClosed.
func (e *Engine[T, O]) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	if !e.started || e.stopped {
		e.lifecycleMu.Unlock()
		return nil
	}
	e.stopped = true
	close(e.admission)
	e.lifecycleMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return nil
	case <-timer.C:
		return errors.ErrStopTimeout
	}
}

// Done is closed once the engine has fully stopped.
func (e *Engine[T, O]) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that ended the engine, if any, once Done is closed.
func (e *Engine[T, O]) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Running reports whether the engine accepts and processes messages.
func (e *Engine[T, O]) Running() bool {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.started || e.stopped {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Lane returns the lane msg would be dispatched to.
func (e *Engine[T, O]) Lane(msg T) int {
	return e.partitioner.Lane(msg)
}

// dispatch moves messages from the admission queue to their lanes.
func (e *Engine[T, O]) dispatch(ctx context.Context) error {
	defer func() {
		for _, lane := range e.lanes {
			close(lane)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-e.admission:
			if !ok {
				return nil
			}

			e.dequeued.Add(1)
			if e.metrics != nil {
				e.metrics.dequeued.Inc()
				e.metrics.queueDepth.Set(float64(len(e.admission)))
			}

			env = e.cfg.PreProcess(env)
			lane := e.partitioner.Lane(env.Message())

			select {
			case e.lanes[lane] <- env:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// runLane runs one lane's pipeline until its input closes.
func (e *Engine[T, O]) runLane(ctx context.Context, lane int) error {
	source := stream.FromChan(ctx, e.lanes[lane])
	out := e.pipeline(lane)(ctx, source)

	return stream.ForEach(ctx, out, func(o O) {
		select {
		case e.fanIn <- o:
		case <-ctx.Done():
		}
	})
}

func (e *Engine[T, O]) pipeline(lane int) stream.Flow[envelope.Envelope[T], O] {
	if e.cfg.Pipeline != nil {
		return e.cfg.Pipeline(lane)
	}
	return Guard(e.cfg.Handler, GuardConfig[T, O]{
		Lane:          lane,
		InternalError: e.cfg.InternalError,
		OnFailure:     e.RecordLaneFailure,
		Logger:        e.cfg.Logger,
	})
}

// RecordLaneFailure counts a failure isolated at a lane boundary. Custom
// pipelines pass it to Guard as OnFailure.
func (e *Engine[T, O]) RecordLaneFailure(lane int, _ error) {
	e.laneFailures.Add(1)
	if e.metrics != nil {
		e.metrics.laneFailures.WithLabelValues(strconv.Itoa(lane)).Inc()
	}
}

// Stats returns current engine statistics.
func (e *Engine[T, O]) Stats() Stats {
	return Stats{
		Lanes:         e.cfg.Lanes,
		QueueCapacity: e.cfg.QueueCapacity,
		QueueDepth:    len(e.admission),
		Received:      e.received.Load(),
		Enqueued:      e.enqueued.Load(),
		Dropped:       e.dropped.Load(),
		Failed:        e.failed.Load(),
		Dequeued:      e.dequeued.Load(),
		LaneFailures:  e.laneFailures.Load(),
	}
}

// Stats represents engine statistics. All counters are monotonic.
type Stats struct {
	Lanes         int   `json:"lanes"`
	QueueCapacity int   `json:"queue_capacity"`
	QueueDepth    int   `json:"queue_depth"`
	Received      int64 `json:"received"`
	Enqueued      int64 `json:"enqueued"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
	Dequeued      int64 `json:"dequeued"`
	LaneFailures  int64 `json:"lane_failures"`
}
