package model

type PurchaseMode string

const (
	PurchaseModeProbing  PurchaseMode = "probing"
	PurchaseModeBatching PurchaseMode = "batching"
)

// PurchaseSession is owned by a single acquisition run and discarded when it returns.
type PurchaseSession struct {
	ID                  string       `json:"id"`
	Item                string       `json:"item"`
	TargetPrice         int          `json:"targetPrice"`
	MaxAcceptablePrice  int          `json:"maxAcceptablePrice"`
	GoalCount           int          `json:"goalCount"`
	PurchasedCount      int          `json:"purchasedCount"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	FailureThreshold    int          `json:"failureThreshold"`
	Mode                PurchaseMode `json:"mode"`
}

// Record applies one purchase attempt of lot units at the realized unit price.
// A zero price counts as a failure; anything else resets the failure run and
// credits the lot. It returns true once the failure run reaches the threshold.
func (s *PurchaseSession) Record(lot int, realizedPrice int) bool {
	if realizedPrice == 0 {
		s.ConsecutiveFailures++
	} else {
		s.ConsecutiveFailures = 0
		if lot > 0 {
			s.PurchasedCount += lot
		}
	}
	return s.FailureThreshold > 0 && s.ConsecutiveFailures >= s.FailureThreshold
}

func (s *PurchaseSession) Done() bool {
	return s.PurchasedCount >= s.GoalCount
}

func (s *PurchaseSession) Remaining() int {
	if s.Done() {
		return 0
	}
	return s.GoalCount - s.PurchasedCount
}
