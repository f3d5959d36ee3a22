package worker

import "time"

// Outcome classifies how a Run call finished.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeChannelError
	OutcomeRequestError
	OutcomeKilled
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeChannelError:
		return "channel_error"
	case OutcomeRequestError:
		return "request_error"
	case OutcomeKilled:
		return "killed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Observer receives lifecycle notifications from a Worker.
// Implementations must be safe for concurrent use.
type Observer interface {
	RequestStarted(worker string)
	RequestFinished(worker string, outcome Outcome, elapsed time.Duration)
	Killed(worker string)
}

type nopObserver struct{}

func (nopObserver) RequestStarted(string)                          {}
func (nopObserver) RequestFinished(string, Outcome, time.Duration) {}
func (nopObserver) Killed(string)                                  {}
