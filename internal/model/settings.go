package model

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Email    string `json:"email"`
	AuthCode string `json:"authCode,omitempty"`
}

type NotifySettings struct {
	// OnEscalation sends a mail for every aborted round, not only for finished purchases.
	OnEscalation bool `json:"onEscalation"`
}
