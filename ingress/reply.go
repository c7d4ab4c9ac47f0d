package ingress

import (
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/pkg/ratelimit"
	"github.com/c360/twinflow/twin"
)

// Reply statuses.
const (
	StatusOK          = "ok"
	StatusInvalid     = "invalid"
	StatusRateLimited = "rate_limited"
	StatusOverloaded  = "overloaded"
	StatusTimeout     = "timeout"
	StatusError       = "error"
)

// Reply is the JSON document published to a command's reply subject.
type Reply struct {
	Status        string      `json:"status"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	ThingID       string      `json:"thing_id,omitempty"`
	Error         string      `json:"error,omitempty"`
	RetryAfterMS  int64       `json:"retry_after_ms,omitempty"`
	Revision      int64       `json:"revision,omitempty"`
	Thing         *twin.Thing `json:"thing,omitempty"`
}

// Result is what a lane produces for one command.
type Result struct {
	Command twin.Command
	Thing   twin.Thing
	Err     error
}

// Reply converts the result to its wire form.
func (r Result) Reply() Reply {
	reply := Reply{
		Status:        StatusOK,
		CorrelationID: r.Command.CorrelationID,
		ThingID:       r.Command.ThingID,
	}

	if r.Err == nil {
		thing := r.Thing
		reply.Revision = thing.Revision
		if r.Command.Op == twin.OpRetrieve {
			reply.Thing = &thing
		}
		return reply
	}

	reply.Status = statusOf(r.Err)
	reply.Error = r.Err.Error()

	var retry *ratelimit.RetryAfterError
	if errors.As(r.Err, &retry) {
		reply.RetryAfterMS = retry.RetryAfter.Milliseconds()
	}
	return reply
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, errors.ErrRateLimited):
		return StatusRateLimited
	case errors.Is(err, errors.ErrOverloaded):
		return StatusOverloaded
	case errors.Is(err, errors.ErrInternal):
		return StatusError
	case errors.IsInvalid(err):
		return StatusInvalid
	default:
		return StatusError
	}
}
