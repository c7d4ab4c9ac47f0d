// Package ingress is the NATS command gateway in front of the twin store.
//
// Each command message is decoded, wrapped in an envelope whose reply handle
// publishes to the message's reply subject, and submitted to a dispatch.Engine.
// Commands for the same thing are applied in arrival order. Every lane runs:
//
//	fail-fast buffer -> rate limiter -+-> timeout(measure(guarded apply))
//	                                  |                 |
//	                                  +--- rejections --+-> merge -> reply
//
// Headers:
//
//	Twin-Entity-Id     overrides the payload's thing_id
//	Twin-Special-Lane  "true" routes the command to the special lane
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"k8s.io/utils/clock"

	"github.com/c360/twinflow/config"
	"github.com/c360/twinflow/dispatch"
	"github.com/c360/twinflow/envelope"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/health"
	"github.com/c360/twinflow/metric"
	"github.com/c360/twinflow/natsclient"
	"github.com/c360/twinflow/pkg/buffer"
	"github.com/c360/twinflow/pkg/ratelimit"
	"github.com/c360/twinflow/pkg/timeout"
	"github.com/c360/twinflow/stream"
	"github.com/c360/twinflow/twin"
)

const (
	HeaderEntityID    = "Twin-Entity-Id"
	HeaderSpecialLane = "Twin-Special-Lane"

	componentName = "ingress"
)

// Transport is the part of natsclient.Client the gateway uses.
type Transport interface {
	natsclient.Publisher
	QueueSubscribeMsg(ctx context.Context, subject, queue string, handler func(context.Context, *nats.Msg)) error
}

type (
	commandEnvelope = envelope.Envelope[twin.Command]
	resultEnvelope  = envelope.Envelope[Result]
	commandLimiter  = ratelimit.Limiter[commandEnvelope, resultEnvelope]
)

// Gateway feeds NATS commands through a dispatch engine into a twin store.
type Gateway struct {
	cfg       *config.Config
	transport Transport
	store     *twin.Store

	engine   *dispatch.Engine[twin.Command, resultEnvelope]
	buffer   *buffer.FailFast[twin.Command]
	limiters []*commandLimiter
	flows    []stream.Flow[commandEnvelope, resultEnvelope]
	notify   envelope.Recipient

	clock    clock.WithDelayedExecution
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	observe  func(Result)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces the wall clock used by the limiter, the timeout wrapper
// and the processing stopwatch.
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(g *Gateway) {
		if clk != nil {
			g.clock = clk
		}
	}
}

// WithMetrics registers engine and buffer metrics and records replies,
// timeouts and processing durations in the core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		g.registry = registry
	}
}

// WithResultObserver calls fn with every lane result, after its reply was sent.
// fn runs on the engine's sink goroutine.
func WithResultObserver(fn func(Result)) Option {
	return func(g *Gateway) {
		g.observe = fn
	}
}

// NewGateway builds the gateway and its engine. Nothing is consumed until Start.
func NewGateway(cfg *config.Config, transport Transport, store *twin.Store, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "NewGateway", "config required")
	}
	if transport == nil || store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "NewGateway", "transport and store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		transport: transport,
		store:     store,
		clock:     clock.RealClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", componentName)
	if g.registry != nil {
		g.metrics = g.registry.CoreMetrics()
	}

	bufferOpts := []buffer.Option{buffer.WithLogger(g.logger)}
	if g.registry != nil {
		bufferOpts = append(bufferOpts, buffer.WithMetrics(g.registry, componentName))
	}
	fb, err := buffer.NewFailFast[twin.Command](cfg.Buffer.MaxSize, g.overloaded, bufferOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Gateway", "NewGateway", "create buffer")
	}
	g.buffer = fb

	lanes := cfg.Dispatch.EffectiveLanes()
	g.limiters = make([]*commandLimiter, lanes+1)
	for i := range g.limiters {
		g.limiters[i], err = ratelimit.New[commandEnvelope, resultEnvelope](cfg.Limiter.Window.Std(),
			cfg.Limiter.MaxElements, rejected, ratelimit.WithClock[commandEnvelope, resultEnvelope](g.clock))
		if err != nil {
			return nil, errors.Wrap(err, "Gateway", "NewGateway", "create limiter")
		}
	}

	g.notify = g.timeoutRecipient()
	g.flows = make([]stream.Flow[commandEnvelope, resultEnvelope], lanes+1)
	for i := range g.flows {
		g.flows[i], err = g.buildLane(i)
		if err != nil {
			return nil, errors.Wrap(err, "Gateway", "NewGateway", "build lane")
		}
	}

	var engineOpts []dispatch.Option[twin.Command, resultEnvelope]
	if g.registry != nil {
		engineOpts = append(engineOpts, dispatch.WithMetricsRegistry[twin.Command, resultEnvelope](g.registry, "commands"))
	}
	engine, err := dispatch.NewEngine(dispatch.Config[twin.Command, resultEnvelope]{
		QueueCapacity: cfg.Dispatch.QueueCapacity,
		Lanes:         lanes,
		LaneBuffer:    cfg.Dispatch.LaneBuffer,
		EntityID:      entityID,
		SpecialLane:   func(cmd twin.Command) bool { return cmd.Special },
		PreProcess:    assignCorrelationID,
		Pipeline:      func(lane int) stream.Flow[commandEnvelope, resultEnvelope] { return g.flows[lane] },
		Sink:          g.reply,
		Logger:        g.logger,
	}, engineOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Gateway", "NewGateway", "create engine")
	}
	g.engine = engine

	return g, nil
}

// Start starts the engine and subscribes to the command subject.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.engine.Start(ctx); err != nil {
		return errors.Wrap(err, "Gateway", "Start", "start engine")
	}

	if err := g.transport.QueueSubscribeMsg(ctx, g.cfg.NATS.Subject, g.cfg.NATS.QueueGroup, g.handle); err != nil {
		_ = g.engine.Stop(g.cfg.Dispatch.StopTimeout.Std())
		return errors.Wrap(err, "Gateway", "Start", "subscribe "+g.cfg.NATS.Subject)
	}

	g.logger.Info("gateway started",
		"subject", g.cfg.NATS.Subject,
		"queue_group", g.cfg.NATS.QueueGroup,
		"lanes", len(g.limiters)-1)
	return nil
}

// Stop stops admission and waits for in-flight commands to be answered.
func (g *Gateway) Stop(timeout time.Duration) error {
	if err := g.engine.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "drain engine")
	}
	g.logger.Info("gateway stopped")
	return nil
}

// Submit hands a decoded command to the engine. replyTo may be nil.
func (g *Gateway) Submit(cmd twin.Command, replyTo envelope.Recipient) dispatch.AdmissionOutcome {
	outcome := g.engine.Submit(cmd, replyTo)
	if !outcome.Accepted() {
		g.logger.Debug("command not admitted", "thing_id", cmd.ThingID, "outcome", outcome.String())
	}
	return outcome
}

// handle is the NATS message callback.
func (g *Gateway) handle(ctx context.Context, msg *nats.Msg) {
	var replyTo envelope.Recipient
	if msg.Reply != "" {
		replyTo = natsclient.NewReplyRecipient(g.transport, msg.Reply, nil)
	}

	cmd, err := decodeCommand(msg)
	if err != nil {
		g.logger.Debug("rejecting malformed command", "subject", msg.Subject, "error", err)
		if replyTo != nil {
			g.send(ctx, replyTo, Result{Command: cmd, Err: err}.Reply())
		}
		return
	}

	g.Submit(cmd, replyTo)
}

func decodeCommand(msg *nats.Msg) (twin.Command, error) {
	var cmd twin.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		return twin.Command{}, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
			"Gateway", "decodeCommand", "unmarshal")
	}

	if id := msg.Header.Get(HeaderEntityID); id != "" {
		cmd.ThingID = id
	}
	if raw := msg.Header.Get(HeaderSpecialLane); raw != "" {
		special, err := strconv.ParseBool(raw)
		if err != nil {
			return cmd, errors.WrapInvalid(fmt.Errorf("%w: %s header %q", errors.ErrInvalidData, HeaderSpecialLane, raw),
				"Gateway", "decodeCommand", "parse header")
		}
		cmd.Special = special
	}
	return cmd, nil
}

func entityID(cmd twin.Command) (string, bool) {
	return cmd.ThingID, cmd.ThingID != ""
}

func assignCorrelationID(env commandEnvelope) commandEnvelope {
	cmd := env.Message()
	if cmd.CorrelationID != "" {
		return env
	}
	cmd.CorrelationID = uuid.NewString()
	return env.WithMessage(cmd)
}

// buildLane builds one lane's pipeline.
func (g *Gateway) buildLane(lane int) (stream.Flow[commandEnvelope, resultEnvelope], error) {
	apply := dispatch.Guard[twin.Command, resultEnvelope](g.apply, dispatch.GuardConfig[twin.Command, resultEnvelope]{
		Lane:     lane,
		Fallback: failed,
		OnFailure: func(lane int, err error) {
			g.engine.RecordLaneFailure(lane, err)
		},
		Logger: g.logger,
	})

	timed, err := timeout.Wrap(timeout.Measure(apply, g.clock, g.recordDuration), timeout.Config{
		After:        g.cfg.Timeout.After.Std(),
		Notification: Reply{Status: StatusTimeout, Error: "processing exceeded " + g.cfg.Timeout.After.Std().String()},
		Recipient:    g.notify,
		Scheduler:    timeout.ClockScheduler{Clock: g.clock},
		OnTimeout:    g.recordTimeout,
		Logger:       g.logger,
	})
	if err != nil {
		return nil, err
	}

	limiter := g.limiters[lane]
	return func(ctx context.Context, in *stream.Pipe[commandEnvelope]) *stream.Pipe[resultEnvelope] {
		buffered := g.buffer.Flow()(ctx, in)
		rejections, allowed := ratelimit.Limit(ctx, buffered, limiter)
		return stream.Merge(ctx, rejections, timed(ctx, allowed))
	}, nil
}

// apply runs one command against the store. Domain errors become results;
// only unexpected failures reach the guard.
func (g *Gateway) apply(_ context.Context, env commandEnvelope) (resultEnvelope, error) {
	cmd := env.Message()
	thing, err := g.store.Apply(cmd)
	if err != nil && !errors.IsInvalid(err) {
		return resultEnvelope{}, err
	}
	return envelope.Map(env, func(cmd twin.Command) Result {
		return Result{Command: cmd, Thing: thing, Err: err}
	}), nil
}

func failed(env commandEnvelope, err error) resultEnvelope {
	return envelope.Map(env, func(cmd twin.Command) Result {
		return Result{Command: cmd, Err: err}
	})
}

func rejected(env commandEnvelope, retryAfter time.Duration) resultEnvelope {
	return envelope.Map(env, func(cmd twin.Command) Result {
		return Result{Command: cmd, Err: &ratelimit.RetryAfterError{RetryAfter: retryAfter}}
	})
}

func (g *Gateway) overloaded(env commandEnvelope) any {
	if g.metrics != nil {
		g.metrics.RecordReply(componentName, StatusOverloaded)
	}
	return Result{Command: env.Message(), Err: errors.ErrOverloaded}.Reply()
}

// reply is the engine sink.
func (g *Gateway) reply(env resultEnvelope) {
	result := env.Message()
	if env.HasReplyTo() {
		g.send(context.Background(), env.ReplyTo(), result.Reply())
	}
	if g.observe != nil {
		g.observe(result)
	}
}

func (g *Gateway) send(ctx context.Context, to envelope.Recipient, reply Reply) {
	if err := to.Tell(ctx, reply); err != nil {
		g.logger.Warn("reply failed", "correlation_id", reply.CorrelationID, "error", err)
		return
	}
	if g.metrics != nil {
		g.metrics.RecordReply(componentName, reply.Status)
	}
}

func (g *Gateway) timeoutRecipient() envelope.Recipient {
	if subject := g.cfg.Timeout.NotifySubject; subject != "" {
		return natsclient.NewReplyRecipient(g.transport, subject, nil)
	}
	return envelope.RecipientFunc(func(_ context.Context, msg any) error {
		g.logger.Warn("command processing timed out", "after", g.cfg.Timeout.After.Std())
		return nil
	})
}

func (g *Gateway) recordTimeout() {
	if g.metrics != nil {
		g.metrics.RecordTimeout(componentName)
	}
}

func (g *Gateway) recordDuration(elapsed time.Duration) {
	if g.metrics != nil {
		g.metrics.RecordProcessingDuration(componentName, elapsed)
	}
}

// Stats is a snapshot of the gateway's counters.
type Stats struct {
	Engine   dispatch.Stats      `json:"engine"`
	Buffer   buffer.StatsSummary `json:"buffer"`
	Allowed  int64               `json:"rate_allowed"`
	Rejected int64               `json:"rate_rejected"`
}

// Stats returns current statistics.
func (g *Gateway) Stats() Stats {
	s := Stats{
		Engine: g.engine.Stats(),
		Buffer: g.buffer.Stats().Summary(),
	}
	for _, l := range g.limiters {
		s.Allowed += l.Allowed()
		s.Rejected += l.Rejected()
	}
	return s
}

// Health reports the engine state for the health monitor.
func (g *Gateway) Health(context.Context) health.Status {
	if !g.engine.Running() {
		return health.NewUnhealthy(componentName, "engine not running")
	}
	stats := g.engine.Stats()
	if stats.QueueDepth >= stats.QueueCapacity {
		return health.NewDegraded(componentName, "admission queue full")
	}
	return health.NewHealthy(componentName, "running").WithMetrics(&health.Metrics{
		ErrorCount:        int(stats.LaneFailures),
		MessagesProcessed: stats.Dequeued,
	})
}
