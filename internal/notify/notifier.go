package notify

import "context"

type EventKind string

const (
	// EventAcquisitionDone is sent when a buy step reaches its goal.
	EventAcquisitionDone EventKind = "acquisition_done"
	// EventRoundAborted is sent when a round escalated and was abandoned.
	EventRoundAborted EventKind = "round_aborted"
	// EventRecoveryFailed is sent when recovery could not restore the game.
	EventRecoveryFailed EventKind = "recovery_failed"
)

type Event struct {
	AtMs      int64     `json:"atMs"`
	Kind      EventKind `json:"kind"`
	Round     int       `json:"round,omitempty"`
	Item      string    `json:"item,omitempty"`
	Purchased int       `json:"purchased,omitempty"`
	Goal      int       `json:"goal,omitempty"`
	Spent     int       `json:"spent,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Message   string    `json:"message,omitempty"`
}

func (e Event) Escalation() bool {
	return e.Kind == EventRoundAborted || e.Kind == EventRecoveryFailed
}

type Notifier interface {
	Notify(ctx context.Context, evt Event)
}
