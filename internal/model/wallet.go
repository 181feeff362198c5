package model

import "time"

// WalletReading is a best-effort OCR read of the currency balance. Only the
// difference between two close readings is meaningful.
type WalletReading struct {
	Amount int       `json:"amount"`
	At     time.Time `json:"at"`
}

func (w WalletReading) Spent(after WalletReading) int {
	return w.Amount - after.Amount
}

// UnitPrice is the realized per-unit cost between two readings, rounded up so
// that any positive spend prices the lot at 1 or more and compares against an
// integer target the same way the exact quotient would. Zero means nothing was
// spent, or the lot is not positive.
func (w WalletReading) UnitPrice(after WalletReading, lot int) int {
	spent := w.Spent(after)
	if lot <= 0 || spent <= 0 {
		return 0
	}
	return (spent + lot - 1) / lot
}
