package model

type RecoveryStage string

const (
	RecoveryStageRestart     RecoveryStage = "restart"
	RecoveryStageStartGame   RecoveryStage = "start_game"
	RecoveryStageStaging     RecoveryStage = "staging"
	RecoveryStageDismissPass RecoveryStage = "dismiss_pass"
	RecoveryStageSettle      RecoveryStage = "settle"
)

type StageCheckpoint struct {
	Stage RecoveryStage `json:"stage"`
	AtMs  int64         `json:"atMs"`
	Note  string        `json:"note,omitempty"`
}

type RecoveryRun struct {
	ID           string            `json:"id"`
	Reason       string            `json:"reason"`
	StartedAtMs  int64             `json:"startedAtMs"`
	FinishedAtMs int64             `json:"finishedAtMs,omitempty"`
	Stages       []StageCheckpoint `json:"stages"`
	Error        string            `json:"error,omitempty"`
}
