package main

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"

	"autodelta/internal/config"
	"autodelta/internal/model"
)

// screen is a crude game simulator: every target is on screen at a stable
// point except the transient ones, which pop up at random. Buying through the
// probe/batch/confirm buttons spends the simulated wallet.
type screen struct {
	mu  sync.Mutex
	rnd *rand.Rand

	cfg       config.Config
	transient map[string]float64
	hidden    map[string]bool

	wallet     int
	price      int
	pendingLot int
	stock      int
	// failRate is the share of confirms that silently do nothing.
	failRate float64
}

func newScreen(cfg config.Config, seed int64) *screen {
	t := cfg.Targets
	return &screen{
		rnd: rand.New(rand.NewSource(seed)),
		cfg: cfg,
		transient: map[string]float64{
			t.Ad:    0.03,
			t.Popup: 0.02,
		},
		hidden: map[string]bool{
			t.Reconnect:    true,
			t.AbandonMatch: true,
			t.CancelRejoin: true,
		},
		wallet:   50_000_000,
		price:    300,
		failRate: 0.1,
	}
}

func pointFor(target string) model.Point {
	h := fnv.New32a()
	_, _ = h.Write([]byte(target))
	v := h.Sum32()
	return model.Point{X: 200 + int(v%2000), Y: 100 + int((v/2000)%1000)}
}

func (s *screen) locate(target string) (model.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidden[target] {
		return model.Point{}, false
	}
	if p, ok := s.transient[target]; ok && s.rnd.Float64() >= p {
		return model.Point{}, false
	}
	return pointFor(target), true
}

func (s *screen) ocr(region model.Region) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cfg.Market
	switch region {
	case m.CoinRegion:
		return fmt.Sprintf("%d", s.wallet)
	case m.PriceRegion:
		// The listing drifts a little on every read.
		s.price += s.rnd.Intn(21) - 10
		if s.price < 200 {
			s.price = 200
		}
		return fmt.Sprintf("%d", s.price)
	case m.CountRegion:
		return fmt.Sprintf("1/%d", s.stock)
	}
	return ""
}

func (s *screen) tap(p model.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cfg.Market
	switch p {
	case m.ProbeButton:
		s.pendingLot = m.ProbeLot
	case m.BatchButton:
		s.pendingLot = m.BatchLot
	case m.ConfirmButton:
		if s.pendingLot > 0 && s.rnd.Float64() >= s.failRate {
			s.wallet -= s.pendingLot * s.price
			s.stock += s.pendingLot
		}
		s.pendingLot = 0
	}
}
