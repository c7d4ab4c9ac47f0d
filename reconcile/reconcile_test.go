package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"testing/quick"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/metric"
	"github.com/c360/twinflow/twin"
)

type staticSource []twin.Revision

func (s staticSource) Snapshot() []twin.Revision {
	return s
}

func revisions(pairs ...any) staticSource {
	var out staticSource
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, twin.Revision{ThingID: pairs[i].(string), Revision: int64(pairs[i+1].(int))})
	}
	return out
}

func newTestReconciler(t *testing.T, persisted, indexed Source, credits int, opts ...Option) (*Reconciler, *testclock.FakeClock) {
	t.Helper()
	clk := testclock.NewFakeClock(time.Now())
	r, err := New(persisted, indexed, Config{
		Interval:           time.Second,
		CreditsPerInterval: credits,
		Clock:              clk,
	}, opts...)
	require.NoError(t, err)
	return r, clk
}

func TestPass_FindsDifferences(t *testing.T) {
	persisted := revisions("boiler", 1, "chiller", 2, "damper", 1, "fan", 1)
	indexed := revisions("boiler", 1, "chiller", 1, "elevator", 3, "fan", 1)
	r, _ := newTestReconciler(t, persisted, indexed, 100)

	got, err := r.Pass(context.Background())
	require.NoError(t, err)

	want := []Difference{
		{ThingID: "chiller", Kind: Stale, Persisted: 2, Indexed: 1},
		{ThingID: "damper", Kind: MissingInIndex, Persisted: 1},
		{ThingID: "elevator", Kind: Orphaned, Indexed: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("differences mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Stats{Passes: 1, Differences: 3}, r.Stats())
}

func TestPass_EmptySides(t *testing.T) {
	tests := []struct {
		name      string
		persisted staticSource
		indexed   staticSource
		want      []Difference
	}{
		{"both empty", nil, nil, nil},
		{"index empty", revisions("a", 1), nil, []Difference{{ThingID: "a", Kind: MissingInIndex, Persisted: 1}}},
		{"store empty", nil, revisions("z", 4), []Difference{{ThingID: "z", Kind: Orphaned, Indexed: 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestReconciler(t, tt.persisted, tt.indexed, 10)
			got, err := r.Pass(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPass_PacedByCredits(t *testing.T) {
	same := revisions("a", 1, "b", 1, "c", 1, "d", 1, "e", 1, "f", 1)
	r, clk := newTestReconciler(t, same, same, 2)

	done := make(chan error, 1)
	go func() {
		_, err := r.Pass(context.Background())
		done <- err
	}()

	assert.Never(t, func() bool {
		return len(done) > 0
	}, 50*time.Millisecond, 5*time.Millisecond, "two credits cannot cover six elements")

	require.Eventually(t, func() bool {
		clk.Step(time.Second)
		return len(done) > 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), r.Stats().Passes)
}

func TestPass_RejectsUnsortedSnapshot(t *testing.T) {
	r, _ := newTestReconciler(t, revisions("b", 1, "a", 1), nil, 10)
	_, err := r.Pass(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestPass_WithStores(t *testing.T) {
	store := twin.NewStore(nil)
	index := twin.NewStore(nil)
	for _, id := range []string{"door-1", "door-2", "door-3"} {
		thing, err := store.Modify(id, map[string]any{"locked": true})
		require.NoError(t, err)
		index.Put(thing)
	}
	_, err := store.Modify("door-2", map[string]any{"locked": false})
	require.NoError(t, err)

	r, _ := newTestReconciler(t, store, index, 10)
	got, err := r.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Difference{{ThingID: "door-2", Kind: Stale, Persisted: 2, Indexed: 1}}, got)
}

// Every difference found by the merge matches a map-based comparison.
func TestPass_MatchesMapComparison(t *testing.T) {
	build := func(values []uint8) (staticSource, map[string]int64) {
		m := make(map[string]int64)
		for _, v := range values {
			m[fmt.Sprintf("thing-%02d", v%40)] = int64(v%3) + 1
		}
		var src staticSource
		for id, rev := range m {
			src = append(src, twin.Revision{ThingID: id, Revision: rev})
		}
		slices.SortFunc(src, func(a, b twin.Revision) int { return strings.Compare(a.ThingID, b.ThingID) })
		return src, m
	}

	property := func(left, right []uint8) bool {
		persisted, pm := build(left)
		indexed, im := build(right)

		var want []Difference
		for _, rev := range persisted {
			irev, ok := im[rev.ThingID]
			switch {
			case !ok:
				want = append(want, Difference{ThingID: rev.ThingID, Kind: MissingInIndex, Persisted: rev.Revision})
			case irev != rev.Revision:
				want = append(want, Difference{ThingID: rev.ThingID, Kind: Stale, Persisted: rev.Revision, Indexed: irev})
			}
		}
		for _, rev := range indexed {
			if _, ok := pm[rev.ThingID]; !ok {
				want = append(want, Difference{ThingID: rev.ThingID, Kind: Orphaned, Indexed: rev.Revision})
			}
		}
		slices.SortFunc(want, func(a, b Difference) int { return strings.Compare(a.ThingID, b.ThingID) })

		r, _ := newTestReconciler(t, persisted, indexed, 1000)
		got, err := r.Pass(context.Background())
		if err != nil {
			return false
		}
		return cmp.Equal(want, got)
	}

	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 50}))
}

func TestRun_ReportsUntilCancelled(t *testing.T) {
	r, _ := newTestReconciler(t, revisions("pump", 1), nil, 10)

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan Difference, 10)
	finished := make(chan error, 1)
	go func() {
		finished <- r.Run(ctx, func(d Difference) { reports <- d })
	}()

	select {
	case d := <-reports:
		assert.Equal(t, Difference{ThingID: "pump", Kind: MissingInIndex, Persisted: 1}, d)
	case <-time.After(5 * time.Second):
		t.Fatal("no report")
	}

	cancel()
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestWithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r, _ := newTestReconciler(t, revisions("a", 2, "b", 1), revisions("a", 1, "c", 1), 10, WithMetrics(registry))

	_, err := r.Pass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.passCounter))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.diffCounter.WithLabelValues(string(Stale))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.diffCounter.WithLabelValues(string(MissingInIndex))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.diffCounter.WithLabelValues(string(Orphaned))))

	_, err = New(revisions(), revisions(), Config{Interval: time.Second, CreditsPerInterval: 1}, WithMetrics(registry))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestNew_Validation(t *testing.T) {
	src := revisions()
	tests := []struct {
		name      string
		persisted Source
		cfg       Config
	}{
		{"missing source", nil, Config{Interval: time.Second, CreditsPerInterval: 1}},
		{"zero interval", src, Config{CreditsPerInterval: 1}},
		{"zero credits", src, Config{Interval: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.persisted, src, tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}
