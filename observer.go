package flowgraph

import "time"

// Observer receives notifications about validator decisions and runs.
// Implementations must be safe for concurrent use.
type Observer interface {
	ConnectionChecked(target Kind, handle string, accepted bool)
	RunFinished(model string, outcome RunOutcome, elapsed time.Duration)
}

// RunOutcome classifies how a run ended.
type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunFailed    RunOutcome = "failed"
	RunDiscarded RunOutcome = "discarded"
)

type nopObserver struct{}

func (nopObserver) ConnectionChecked(Kind, string, bool)             {}
func (nopObserver) RunFinished(string, RunOutcome, time.Duration) {}
