package dispatch

import (
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
)

type thingCommand struct {
	thingID string
	special bool
}

func thingPartitioner(lanes int) Partitioner[thingCommand] {
	return Partitioner[thingCommand]{
		Lanes: lanes,
		EntityID: func(c thingCommand) (string, bool) {
			return c.thingID, c.thingID != ""
		},
		SpecialLane: func(c thingCommand) bool {
			return c.special
		},
	}
}

func TestPartitioner_Lane(t *testing.T) {
	p := thingPartitioner(4)

	tests := []struct {
		name string
		cmd  thingCommand
		want int
	}{
		{"no entity id", thingCommand{}, SpecialLane},
		{"special marker", thingCommand{thingID: "org.eclipse:thing-1", special: true}, SpecialLane},
		{"hashed", thingCommand{thingID: "org.eclipse:thing-1"},
			1 + int(xxhash.Sum64String("org.eclipse:thing-1")%4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Lane(tt.cmd))
		})
	}
}

func TestPartitioner_SpecialMarkerIgnoresHash(t *testing.T) {
	p := thingPartitioner(8)
	for i := 0; i < 100; i++ {
		cmd := thingCommand{thingID: "thing-" + string(rune('a'+i%26)) + string(rune('0'+i%10)), special: true}
		assert.Equal(t, SpecialLane, p.Lane(cmd))
	}
}

func TestPartitioner_CustomHash(t *testing.T) {
	p := thingPartitioner(3)
	p.Hash = func(string) uint64 { return 7 }

	assert.Equal(t, 1+7%3, p.Lane(thingCommand{thingID: "x"}))
}

func TestPartitioner_ZeroValueUsesSpecialLane(t *testing.T) {
	assert.Equal(t, SpecialLane, thingPartitioner(0).Lane(thingCommand{thingID: "x"}))
	assert.Equal(t, SpecialLane, thingPartitioner(-2).Lane(thingCommand{thingID: "x"}))

	var zero Partitioner[thingCommand]
	assert.NotPanics(t, func() {
		assert.Equal(t, SpecialLane, zero.Lane(thingCommand{thingID: "x"}))
	})
}

func TestPartitioner_HashLaneRangeProperty(t *testing.T) {
	cfg := &quick.Config{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

	if err := quick.Check(func(id string, lanes uint8) bool {
		n := int(lanes%32) + 1
		p := thingPartitioner(n)
		lane := p.Lane(thingCommand{thingID: id})
		if id == "" {
			return lane == SpecialLane
		}
		return lane >= 1 && lane <= n && lane == p.Lane(thingCommand{thingID: id})
	}, cfg); err != nil {
		t.Fatalf("partition property failed: %v", err)
	}
}
