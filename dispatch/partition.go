package dispatch

import (
	"github.com/cespare/xxhash/v2"
)

// SpecialLane is the reserved lane for messages without an entity ID and for
// messages marked to bypass hashing. Nested processing of one logical operation
// is routed here so it cannot queue behind its own trigger on a hash lane.
const SpecialLane = 0

// Partitioner assigns messages to lanes. Messages sharing an entity ID always map
// to the same lane, which is what makes per-entity ordering hold end to end.
type Partitioner[T any] struct {
	// Lanes is the number of hash lanes; lane indexes run 0..Lanes. With no hash
	// lanes every message goes to SpecialLane.
	Lanes int

	// EntityID extracts the entity identifier, reporting false when there is none.
	EntityID func(T) (string, bool)

	// SpecialLane reports whether a message carries the special-lane marker. Optional.
	SpecialLane func(T) bool

	// Hash defaults to xxhash64.
	Hash func(string) uint64
}

// Lane returns the lane for msg: SpecialLane for marked messages and messages
// without an entity ID, 1 + hash(id) mod Lanes otherwise.
func (p Partitioner[T]) Lane(msg T) int {
	if p.Lanes <= 0 || p.EntityID == nil {
		return SpecialLane
	}
	id, ok := p.EntityID(msg)
	if !ok || id == "" {
		return SpecialLane
	}
	if p.SpecialLane != nil && p.SpecialLane(msg) {
		return SpecialLane
	}

	hash := p.Hash
	if hash == nil {
		hash = xxhash.Sum64String
	}
	return 1 + int(hash(id)%uint64(p.Lanes))
}
