package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"autodelta/internal/config"
	"autodelta/internal/executor"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
)

const (
	listingItem = "12 buy"
	stockItem   = "12 Gauge"
)

// fakeHouse simulates the trading house screens well enough for the trader:
// opening a listing shows the next scripted preview price, a confirmed buy
// debits lot*cost (or the next scripted debit) from the balance, and the warehouse item shows up after its
// category is tapped.
type fakeHouse struct {
	mu  sync.Mutex
	cfg config.Config

	visible map[string]model.Point
	points  map[model.Point]string

	balance       int
	listingPrices []int
	listings      int
	price         int
	costs         []int
	debits        []int
	pending       int
	coinOpen      bool

	itemCategory int
	countTexts   []string

	events []string
	taps   []model.Point
}

func newFakeHouse(t *testing.T) *fakeHouse {
	t.Helper()
	cfg, err := config.Parse([]byte(`
timing:
  pollIntervalMs: 1
  defaultTimeoutMs: 300
market:
  settleMs: 1
  confirmMs: 1
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	h := &fakeHouse{
		cfg:          cfg,
		visible:      map[string]model.Point{},
		points:       map[model.Point]string{},
		balance:      10_000_000,
		itemCategory: -1,
	}
	tg := cfg.Targets
	for i, name := range []string{tg.Market, tg.Sell, tg.Tidy, tg.ConfirmTidy, tg.Cancel, tg.List, tg.Back, listingItem} {
		p := model.Point{X: 10 * (i + 1), Y: 10}
		h.visible[name] = p
		h.points[p] = name
	}
	return h
}

func (h *fakeHouse) Locate(_ context.Context, target string) (model.MatchResult, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.visible[target]
	return model.MatchResult{Target: target, Point: p, Confidence: 0.9}, ok, nil
}

func (h *fakeHouse) ReadText(_ context.Context, region model.Region, _ string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if region != h.cfg.Market.CountRegion || len(h.countTexts) == 0 {
		return "", nil
	}
	text := h.countTexts[0]
	if len(h.countTexts) > 1 {
		h.countTexts = h.countTexts[1:]
	}
	return text, nil
}

func (h *fakeHouse) ReadNumber(_ context.Context, region model.Region) (int, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch region {
	case h.cfg.Market.CoinRegion:
		return h.balance, h.coinOpen, nil
	case h.cfg.Market.PriceRegion:
		return h.price, h.price > 0, nil
	}
	return 0, false, nil
}

func (h *fakeHouse) Tap(_ context.Context, p model.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, p)
	m := h.cfg.Market

	switch p {
	case m.ProbeButton:
		h.pending = m.ProbeLot
		h.events = append(h.events, "probe")
		return nil
	case m.BatchButton:
		h.pending = m.BatchLot
		h.events = append(h.events, "batch")
		return nil
	case m.ConfirmButton:
		cost := h.price
		if len(h.costs) > 0 {
			cost, h.costs = h.costs[0], h.costs[1:]
		}
		if len(h.debits) > 0 {
			h.balance -= h.debits[0]
			h.debits = h.debits[1:]
		} else {
			h.balance -= h.pending * cost
		}
		h.pending = 0
		h.events = append(h.events, "confirm")
		return nil
	case m.CoinWidget:
		h.coinOpen = true
		return nil
	case m.NeutralPoint:
		h.coinOpen = false
		return nil
	}

	for i := 0; i < m.Categories; i++ {
		if p == m.CategoryOrigin.Offset(0, i*m.CategoryStep) && i == h.itemCategory {
			h.visible[stockItem] = model.Point{X: 1800, Y: 700}
		}
	}

	switch h.points[p] {
	case listingItem:
		if n := len(h.listingPrices); n > 0 {
			h.price = h.listingPrices[min(h.listings, n-1)]
		}
		h.listings++
		h.events = append(h.events, "open")
	case h.cfg.Targets.Back:
		h.events = append(h.events, "back")
	case h.cfg.Targets.List:
		h.events = append(h.events, "list")
	}
	return nil
}

func (h *fakeHouse) TouchDown(context.Context, model.Point, int) error { return nil }

func (h *fakeHouse) TouchUp(context.Context, model.Point, int) error { return nil }

func (h *fakeHouse) Swipe(context.Context, model.Point, model.Point, time.Duration) error {
	return nil
}

func (h *fakeHouse) count(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == event {
			n++
		}
	}
	return n
}

func (h *fakeHouse) tapsAt(p model.Point) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, q := range h.taps {
		if q == p {
			n++
		}
	}
	return n
}

type tradeLog struct {
	mu     sync.Mutex
	trades []model.TradeRecord
}

func (l *tradeLog) SaveTrade(_ context.Context, rec model.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, rec)
	return nil
}

func (l *tradeLog) modes() []model.PurchaseMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.PurchaseMode, 0, len(l.trades))
	for _, tr := range l.trades {
		out = append(out, tr.Mode)
	}
	return out
}

func newTestTrader(h *fakeHouse, rec Recorder, bus *logbus.Bus) *Trader {
	exec := executor.New(executor.Options{
		Perceiver: h,
		Toucher:   h,
		Bus:       bus,
		Targets:   h.cfg.Targets,
		Timing:    h.cfg.Timing,
	})
	return New(Options{
		Exec:      exec,
		Perceiver: h,
		Bus:       bus,
		Targets:   h.cfg.Targets,
		Config:    h.cfg.Market,
		Recorder:  rec,
	})
}

// sessionCounts returns the purchased count of every published session update.
func sessionCounts(bus *logbus.Bus) []int {
	var out []int
	for _, msg := range bus.Snapshot() {
		if s, ok := msg.Data.(model.PurchaseSession); ok && msg.Type == "purchase_session" {
			out = append(out, s.PurchasedCount)
		}
	}
	return out
}
