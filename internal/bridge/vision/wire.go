package vision

// Wire shapes of the vision sidecar. cmd/mock serves the same shapes.

type Envelope[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    T      `json:"data"`
}

type LocateRequest struct {
	Target string `json:"target"`
}

type LocateResult struct {
	Found bool    `json:"found"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Score float64 `json:"score"`
}

type OCRRequest struct {
	Region    [4]int `json:"region"`
	Whitelist string `json:"whitelist,omitempty"`
}

type OCRResult struct {
	Text string `json:"text"`
}

// ErrCodeUnknownTarget is the error string the sidecar uses for a target
// missing from its registry.
const ErrCodeUnknownTarget = "unknown_target"
