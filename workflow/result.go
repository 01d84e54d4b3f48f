package workflow

import "time"

// stepOutcome classifies what happened to a single task during a
// traversal pass. Rescheduling is an outcome, not an error: the run
// yields its slot and resumes later.
type stepOutcome int

const (
	stepCompleted stepOutcome = iota
	stepSkipped
	stepRescheduled
)

type stepResult struct {
	outcome  stepOutcome
	resumeAt time.Time
}

func completed() stepResult { return stepResult{outcome: stepCompleted} }
func skipped() stepResult   { return stepResult{outcome: stepSkipped} }
func rescheduled(at time.Time) stepResult {
	return stepResult{outcome: stepRescheduled, resumeAt: at}
}
