// Package reconcile finds twins whose persisted and indexed states disagree.
//
// A pass streams both revision snapshots, each sorted by thing ID, through a
// credit-gated transistor into a sorted-pair merge. Credits are granted per
// clock tick, so a pass over a large store is spread out instead of competing
// with live traffic.
package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/metric"
	"github.com/c360/twinflow/pkg/mergesort"
	"github.com/c360/twinflow/pkg/transistor"
	"github.com/c360/twinflow/stream"
	"github.com/c360/twinflow/twin"
)

// Source provides a revision snapshot sorted by thing ID. *twin.Store
// implements it.
type Source interface {
	Snapshot() []twin.Revision
}

// Kind classifies a difference.
type Kind string

const (
	// MissingInIndex: persisted but never indexed.
	MissingInIndex Kind = "missing_in_index"
	// Orphaned: indexed but no longer persisted.
	Orphaned Kind = "orphaned"
	// Stale: present on both sides at different revisions.
	Stale Kind = "stale"
)

// Difference is one out-of-sync thing.
type Difference struct {
	ThingID   string `json:"thing_id"`
	Kind      Kind   `json:"kind"`
	Persisted int64  `json:"persisted_revision,omitempty"`
	Indexed   int64  `json:"indexed_revision,omitempty"`
}

// Config configures a Reconciler.
type Config struct {
	// Interval is the credit tick and the pause between passes.
	Interval time.Duration

	// CreditsPerInterval is how many elements each side may advance per tick.
	CreditsPerInterval int

	// Clock defaults to the wall clock.
	Clock clock.WithTicker

	Logger *slog.Logger
}

// Reconciler compares a persisted source with an indexed one.
type Reconciler struct {
	persisted Source
	indexed   Source
	cfg       Config

	passes      atomic.Int64
	differences atomic.Int64

	passCounter prometheus.Counter
	diffCounter *prometheus.CounterVec
}

// Option configures a Reconciler.
type Option func(*Reconciler) error

// WithMetrics registers pass and difference counters.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Reconciler) error {
		passes := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twinflow",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Completed reconciliation passes",
		})
		diffs := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twinflow",
			Subsystem: "reconcile",
			Name:      "differences_total",
			Help:      "Out-of-sync things found, by kind",
		}, []string{"kind"})

		if err := registry.RegisterCounter("reconcile", "passes", passes); err != nil {
			return err
		}
		if err := registry.RegisterCounterVec("reconcile", "differences", diffs); err != nil {
			return err
		}
		r.passCounter = passes
		r.diffCounter = diffs
		return nil
	}
}

// New creates a reconciler.
func New(persisted, indexed Source, cfg Config, opts ...Option) (*Reconciler, error) {
	if persisted == nil || indexed == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Reconciler", "New", "both sources required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Reconciler", "New", "interval must be positive")
	}
	if cfg.CreditsPerInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Reconciler", "New", "credits per interval must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Reconciler{persisted: persisted, indexed: indexed, cfg: cfg}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, errors.WrapTransient(err, "Reconciler", "New", "apply option")
		}
	}
	return r, nil
}

// entry is a revision or the sentinel that follows the last one.
type entry struct {
	rev  twin.Revision
	last bool
}

func compareEntries(a, b entry) int {
	switch {
	case a.last && b.last:
		return 0
	case a.last:
		return 1
	case b.last:
		return -1
	default:
		return strings.Compare(a.rev.ThingID, b.rev.ThingID)
	}
}

func compareRevisions(a, b twin.Revision) int {
	return strings.Compare(a.ThingID, b.ThingID)
}

// Pass runs one reconciliation and returns the differences in thing ID order.
func (r *Reconciler) Pass(ctx context.Context) ([]Difference, error) {
	persisted := r.persisted.Snapshot()
	indexed := r.indexed.Snapshot()
	if !slices.IsSortedFunc(persisted, compareRevisions) || !slices.IsSortedFunc(indexed, compareRevisions) {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Reconciler", "Pass", "snapshot not sorted by thing id")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	leftGate := make(chan int, 1)
	rightGate := make(chan int, 1)
	go r.grant(ctx, leftGate, rightGate)

	left := r.gated(ctx, persisted, leftGate)
	right := r.gated(ctx, indexed, rightGate)
	pairs := mergesort.MergeAsPairs(ctx, left, right, compareEntries, entry{last: true})

	diffs, err := stream.Collect(ctx, stream.MapMaybe(difference)(ctx, pairs))
	if err != nil {
		return nil, errors.WrapTransient(err, "Reconciler", "Pass", "merge snapshots")
	}

	r.passes.Add(1)
	r.differences.Add(int64(len(diffs)))
	if r.passCounter != nil {
		r.passCounter.Inc()
		for _, d := range diffs {
			r.diffCounter.WithLabelValues(string(d.Kind)).Inc()
		}
	}

	r.cfg.Logger.Debug("reconciliation pass complete",
		"persisted", len(persisted), "indexed", len(indexed), "differences", len(diffs))
	return diffs, nil
}

func (r *Reconciler) gated(ctx context.Context, revisions []twin.Revision, gate <-chan int) *stream.Pipe[entry] {
	source := transistor.Transistor(ctx, stream.FromSlice(ctx, revisions), stream.FromChan(ctx, gate))
	return stream.Map(func(rev twin.Revision) entry {
		return entry{rev: rev}
	})(ctx, source)
}

// grant hands every gate CreditsPerInterval credits now and on each tick.
// Credits a gate has not taken yet accumulate.
func (r *Reconciler) grant(ctx context.Context, gates ...chan<- int) {
	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	pending := make([]int, len(gates))
	for {
		for i := range pending {
			pending[i] += r.cfg.CreditsPerInterval
		}
		for i, gate := range gates {
			select {
			case gate <- pending[i]:
				pending[i] = 0
			default:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// difference reports the side of a pair that can no longer be matched.
func difference(p mergesort.Pair[entry]) (Difference, bool) {
	switch c := compareEntries(p.Left, p.Right); {
	case c < 0:
		return Difference{ThingID: p.Left.rev.ThingID, Kind: MissingInIndex, Persisted: p.Left.rev.Revision}, true
	case c > 0:
		return Difference{ThingID: p.Right.rev.ThingID, Kind: Orphaned, Indexed: p.Right.rev.Revision}, true
	case p.Left.rev.Revision != p.Right.rev.Revision:
		return Difference{
			ThingID:   p.Left.rev.ThingID,
			Kind:      Stale,
			Persisted: p.Left.rev.Revision,
			Indexed:   p.Right.rev.Revision,
		}, true
	default:
		return Difference{}, false
	}
}

// Run repeats Pass every Interval until ctx is done, handing each difference
// to report. A failed pass is logged and retried on the next interval.
func (r *Reconciler) Run(ctx context.Context, report func(Difference)) error {
	for {
		diffs, err := r.Pass(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			r.cfg.Logger.Warn("reconciliation pass failed", "error", err)
		default:
			for _, d := range diffs {
				report(d)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-r.cfg.Clock.After(r.cfg.Interval):
		}
	}
}

// Stats is a snapshot of the reconciler's counters.
type Stats struct {
	Passes      int64 `json:"passes"`
	Differences int64 `json:"differences"`
}

// Stats returns current statistics.
func (r *Reconciler) Stats() Stats {
	return Stats{Passes: r.passes.Load(), Differences: r.differences.Load()}
}
