package model

type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeTimedOut           Outcome = "timed_out"
	OutcomeAmbiguousExhausted Outcome = "ambiguous_exhausted"
)

// Escalates reports whether the outcome must be followed by a recovery run
// and the abandonment of the current unit of work.
func (o Outcome) Escalates() bool {
	return o == OutcomeTimedOut || o == OutcomeAmbiguousExhausted
}

func (o Outcome) OK() bool {
	return o == OutcomeSucceeded
}
