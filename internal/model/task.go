package model

type RoundState struct {
	ID           string  `json:"id"`
	Round        int     `json:"round"`
	Attempt      int     `json:"attempt"`
	Running      bool    `json:"running"`
	Step         string  `json:"step,omitempty"`
	LastOutcome  Outcome `json:"lastOutcome,omitempty"`
	LastError    string  `json:"lastError,omitempty"`
	StartedAtMs  int64   `json:"startedAtMs,omitempty"`
	FinishedAtMs int64   `json:"finishedAtMs,omitempty"`
	Purchased    int     `json:"purchased,omitempty"`
}

type EngineState struct {
	Running    bool         `json:"running"`
	Completed  int          `json:"completed"`
	Aborted    int          `json:"aborted"`
	Recoveries int          `json:"recoveries"`
	Current    *RoundState  `json:"current,omitempty"`
	History    []RoundState `json:"history"`
}
