// Package twin holds digital-twin state: one revisioned attribute map per thing.
//
// Every successful modification bumps the thing's revision by one. Snapshot
// returns (thing ID, revision) pairs sorted by thing ID, the form the
// reconciler merge-joins.
package twin

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/c360/twinflow/errors"
)

// ErrThingNotFound is returned for operations on an unknown thing.
var ErrThingNotFound = errors.New("thing not found")

// Thing is the current state of one twin.
type Thing struct {
	ID         string         `json:"thing_id"`
	Revision   int64          `json:"revision"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Modified   time.Time      `json:"modified"`
}

// Revision identifies one version of a thing.
type Revision struct {
	ThingID  string `json:"thing_id"`
	Revision int64  `json:"revision"`
}

// Store is a concurrency-safe in-memory twin store.
type Store struct {
	mu     sync.RWMutex
	things map[string]Thing
	clock  clock.PassiveClock
}

// NewStore creates an empty store. A nil clock means the wall clock.
func NewStore(clk clock.PassiveClock) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{
		things: make(map[string]Thing),
		clock:  clk,
	}
}

// Get returns a copy of the thing.
func (s *Store) Get(id string) (Thing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.things[id]
	if !ok {
		return Thing{}, false
	}
	return t.clone(), true
}

// Modify merges attrs into the thing, creating it at revision 1 if needed. A
// nil attribute value removes the attribute.
func (s *Store) Modify(id string, attrs map[string]any) (Thing, error) {
	if strings.TrimSpace(id) == "" {
		return Thing{}, errors.WrapInvalid(errors.ErrMissingEntityID, "Store", "Modify", "thing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.things[id]
	if !ok {
		t = Thing{ID: id}
	}
	merged := make(map[string]any, len(t.Attributes)+len(attrs))
	maps.Copy(merged, t.Attributes)
	for k, v := range attrs {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	t.Attributes = merged
	t.Revision++
	t.Modified = s.clock.Now()
	s.things[id] = t
	return t.clone(), nil
}

// Put stores t as is, replacing any existing state. It is how a mirror such as
// a search index follows a primary store.
func (s *Store) Put(t Thing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.things[t.ID] = t.clone()
}

// Delete removes the thing.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.things[id]; !ok {
		return errors.WrapInvalid(ErrThingNotFound, "Store", "Delete", id)
	}
	delete(s.things, id)
	return nil
}

// Len returns the number of things.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.things)
}

// Snapshot returns every thing's revision, sorted by thing ID.
func (s *Store) Snapshot() []Revision {
	s.mu.RLock()
	revisions := make([]Revision, 0, len(s.things))
	for id, t := range s.things {
		revisions = append(revisions, Revision{ThingID: id, Revision: t.Revision})
	}
	s.mu.RUnlock()

	slices.SortFunc(revisions, func(a, b Revision) int {
		return strings.Compare(a.ThingID, b.ThingID)
	})
	return revisions
}

func (t Thing) clone() Thing {
	t.Attributes = maps.Clone(t.Attributes)
	return t
}
