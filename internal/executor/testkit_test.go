package executor

import (
	"context"
	"sync"
	"time"

	"autodelta/internal/config"
	"autodelta/internal/model"
)

type touchOp struct {
	kind    string
	p       model.Point
	pointer int
}

// fakeScreen is a scripted screen: targets are visible when listed in visible
// or once they have been looked up appearAfter times. onTap mutates the screen.
type fakeScreen struct {
	mu          sync.Mutex
	visible     map[string]model.Point
	appearAfter map[string]int
	appearAt    map[string]model.Point
	locates     map[string]int
	ops         []touchOp
	onTap       func(s *fakeScreen, p model.Point)
}

func newFakeScreen() *fakeScreen {
	return &fakeScreen{
		visible:     map[string]model.Point{},
		appearAfter: map[string]int{},
		appearAt:    map[string]model.Point{},
		locates:     map[string]int{},
	}
}

func (s *fakeScreen) show(target string, p model.Point) {
	s.visible[target] = p
}

func (s *fakeScreen) hide(target string) {
	delete(s.visible, target)
}

func (s *fakeScreen) Locate(_ context.Context, target string) (model.MatchResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locates[target]++
	if n := s.appearAfter[target]; n > 0 && s.locates[target] >= n {
		s.visible[target] = s.appearAt[target]
	}
	p, ok := s.visible[target]
	if !ok {
		return model.MatchResult{}, false, nil
	}
	return model.MatchResult{Target: target, Point: p, Confidence: 0.95}, true, nil
}

func (s *fakeScreen) ReadText(context.Context, model.Region, string) (string, error) {
	return "", nil
}

func (s *fakeScreen) ReadNumber(context.Context, model.Region) (int, bool, error) {
	return 0, false, nil
}

func (s *fakeScreen) Tap(_ context.Context, p model.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, touchOp{kind: "tap", p: p})
	if s.onTap != nil {
		s.onTap(s, p)
	}
	return nil
}

func (s *fakeScreen) TouchDown(_ context.Context, p model.Point, pointer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, touchOp{kind: "down", p: p, pointer: pointer})
	return nil
}

func (s *fakeScreen) TouchUp(_ context.Context, p model.Point, pointer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, touchOp{kind: "up", p: p, pointer: pointer})
	return nil
}

func (s *fakeScreen) Swipe(_ context.Context, from, _ model.Point, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, touchOp{kind: "swipe", p: from})
	return nil
}

func (s *fakeScreen) snapshot() []touchOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]touchOp(nil), s.ops...)
}

func (s *fakeScreen) count(kind string) int {
	n := 0
	for _, op := range s.snapshot() {
		if op.kind == kind {
			n++
		}
	}
	return n
}

var testTargets = config.TargetsConfig{
	Ad:        "ad",
	Popup:     "popup",
	Reconnect: "reconnect",
}

func newTestExecutor(s *fakeScreen) *Executor {
	return New(Options{
		Perceiver: s,
		Toucher:   s,
		Targets:   testTargets,
		Timing: config.TimingConfig{
			PollIntervalMs:       5,
			DefaultTimeoutMs:     200,
			LongPressTimeoutMs:   200,
			AdPauseIntervals:     2,
			MultitouchDurationMs: 40,
			MultitouchSubDelayMs: 15,
			TapHoldMs:            2,
		},
	})
}
