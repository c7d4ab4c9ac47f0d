package twin

import (
	"fmt"

	"github.com/c360/twinflow/errors"
)

// Op names a command operation.
type Op string

const (
	OpRetrieve Op = "retrieve"
	OpModify   Op = "modify"
	OpDelete   Op = "delete"
)

// Command is one request against a thing.
type Command struct {
	Op            Op             `json:"op"`
	ThingID       string         `json:"thing_id"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`

	// Special routes the command to the special lane. It is taken from
	// transport metadata, never from the payload.
	Special bool `json:"-"`
}

// Validate checks that the command can be applied.
func (c Command) Validate() error {
	if c.ThingID == "" {
		return errors.WrapInvalid(errors.ErrMissingEntityID, "Command", "Validate", "thing id")
	}
	switch c.Op {
	case OpRetrieve, OpModify, OpDelete:
		return nil
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: unknown op %q", errors.ErrInvalidData, c.Op),
			"Command", "Validate", "op")
	}
}

// Apply executes cmd against the store and returns the resulting thing. A
// deleted thing is returned as it was before removal.
func (s *Store) Apply(cmd Command) (Thing, error) {
	if err := cmd.Validate(); err != nil {
		return Thing{}, err
	}

	switch cmd.Op {
	case OpModify:
		return s.Modify(cmd.ThingID, cmd.Attributes)
	case OpDelete:
		t, ok := s.Get(cmd.ThingID)
		if !ok {
			return Thing{}, errors.WrapInvalid(ErrThingNotFound, "Store", "Apply", cmd.ThingID)
		}
		return t, s.Delete(cmd.ThingID)
	default:
		t, ok := s.Get(cmd.ThingID)
		if !ok {
			return Thing{}, errors.WrapInvalid(ErrThingNotFound, "Store", "Apply", cmd.ThingID)
		}
		return t, nil
	}
}
