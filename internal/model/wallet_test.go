package model

import "testing"

func TestWalletReading_UnitPrice(t *testing.T) {
	cases := []struct {
		name          string
		before, after int
		lot           int
		want          int
	}{
		{"exact", 100000, 100000 - 31*288, 31, 288},
		{"fraction rounds up", 100000, 100000 - 31*288 - 1, 31, 289},
		{"spend below one per unit", 1000, 980, 31, 1},
		{"nothing spent", 1000, 1000, 31, 0},
		{"balance went up", 1000, 1200, 31, 0},
		{"no lot", 1000, 900, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WalletReading{Amount: tc.before}.UnitPrice(WalletReading{Amount: tc.after}, tc.lot)
			if got != tc.want {
				t.Fatalf("UnitPrice = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPurchaseSession_Record(t *testing.T) {
	s := PurchaseSession{GoalCount: 100, FailureThreshold: 2}
	if s.Record(31, 0) {
		t.Fatal("one failure must not escalate")
	}
	if s.Record(31, 1) || s.ConsecutiveFailures != 0 || s.PurchasedCount != 31 {
		t.Fatalf("a priced purchase must reset failures and credit the lot: %+v", s)
	}
	s.Record(31, 0)
	if !s.Record(31, 0) {
		t.Fatal("expected escalation at the threshold")
	}
}
