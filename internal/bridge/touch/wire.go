package touch

const (
	ActionDown  = "down"
	ActionUp    = "up"
	ActionTap   = "tap"
	ActionSwipe = "swipe"
)

// Frame is one touch command. Every frame is answered by an Ack with the same ID.
type Frame struct {
	ID         uint64 `json:"id"`
	Action     string `json:"action"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Pointer    int    `json:"pointer"`
	ToX        int    `json:"toX,omitempty"`
	ToY        int    `json:"toY,omitempty"`
	DurationMs int    `json:"durationMs,omitempty"`
}

type Ack struct {
	ID    uint64 `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
