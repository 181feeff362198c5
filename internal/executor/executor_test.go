package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"autodelta/internal/model"
)

var (
	ptTarget = model.Point{X: 100, Y: 200}
	ptNext   = model.Point{X: 300, Y: 400}
	ptAd     = model.Point{X: 10, Y: 10}
	ptPopup  = model.Point{X: 50, Y: 60}
	ptHold   = model.Point{X: 2270, Y: 1100}
)

func TestClickOnce_TapsTarget(t *testing.T) {
	s := newFakeScreen()
	s.show("start", ptTarget)
	e := newTestExecutor(s)

	out, err := e.ClickOnce(context.Background(), "start", 100*time.Millisecond, false)
	if err != nil {
		t.Fatalf("ClickOnce: %v", err)
	}
	if out != model.OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s", out)
	}
	ops := s.snapshot()
	if len(ops) != 1 || ops[0].kind != "tap" || ops[0].p != ptTarget {
		t.Fatalf("expected a single tap on target, got %+v", ops)
	}
}

func TestClickOnce_TimeoutBound(t *testing.T) {
	s := newFakeScreen()
	e := newTestExecutor(s)

	for _, timeout := range []time.Duration{0, 20 * time.Millisecond, 60 * time.Millisecond} {
		budget := timeout
		start := time.Now()
		out, err := e.ClickOnce(context.Background(), "missing", timeout, true)
		elapsed := time.Since(start)
		if err != nil {
			t.Fatalf("ClickOnce: %v", err)
		}
		if out != model.OutcomeTimedOut {
			t.Fatalf("expected timed out, got %s", out)
		}
		if limit := budget + e.PollInterval() + 50*time.Millisecond; elapsed > limit {
			t.Errorf("timeout %v: returned after %v, limit %v", timeout, elapsed, limit)
		}
		if elapsed < budget {
			t.Errorf("timeout %v: returned early after %v", timeout, elapsed)
		}
	}
	if n := s.count("tap"); n != 0 {
		t.Errorf("expected no taps, got %d", n)
	}
}

func TestClickOnce_ZeroTimeoutLooksOnce(t *testing.T) {
	s := newFakeScreen()
	e := newTestExecutor(s)

	start := time.Now()
	out, err := e.ClickOnce(context.Background(), "missing", 0, false)
	elapsed := time.Since(start)
	if err != nil || out != model.OutcomeTimedOut {
		t.Fatalf("expected timed out, got %s %v", out, err)
	}
	if elapsed > e.PollInterval() {
		t.Fatalf("zero timeout returned after %v, want at most %v", elapsed, e.PollInterval())
	}

	s.show("start", ptTarget)
	out, err = e.ClickOnce(context.Background(), "start", 0, false)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("a visible target should still be tapped with a zero timeout, got %s %v", out, err)
	}
}

func TestWaitFor_ZeroTimeoutLooksOnce(t *testing.T) {
	s := newFakeScreen()
	e := newTestExecutor(s)

	start := time.Now()
	out, err := e.WaitFor(context.Background(), "missing", 0)
	if err != nil || out != model.OutcomeTimedOut {
		t.Fatalf("expected timed out, got %s %v", out, err)
	}
	if elapsed := time.Since(start); elapsed > e.PollInterval() {
		t.Fatalf("zero timeout returned after %v", elapsed)
	}
}

func TestClickOnce_ClicksThroughAdFirst(t *testing.T) {
	s := newFakeScreen()
	s.show("ad", ptAd)
	s.show("staging", ptTarget)
	s.onTap = func(s *fakeScreen, p model.Point) {
		if p == ptAd {
			s.hide("ad")
		}
	}
	e := newTestExecutor(s)

	out, err := e.ClickOnce(context.Background(), "staging", time.Second, true)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	ops := s.snapshot()
	if len(ops) != 2 || ops[0].p != ptAd || ops[1].p != ptTarget {
		t.Fatalf("expected ad tap then target tap, got %+v", ops)
	}
}

func TestClickOnce_IgnoresAdWhenNotAsked(t *testing.T) {
	s := newFakeScreen()
	s.show("ad", ptAd)
	s.show("staging", ptTarget)
	e := newTestExecutor(s)

	if out, _ := e.ClickOnce(context.Background(), "staging", time.Second, false); out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s", out)
	}
	if ops := s.snapshot(); len(ops) != 1 || ops[0].p != ptTarget {
		t.Fatalf("expected only the target tap, got %+v", ops)
	}
}

func TestClickOnce_DismissesOverlayBeforeTapping(t *testing.T) {
	s := newFakeScreen()
	s.show("popup", ptPopup)
	s.show("start", ptTarget)
	s.onTap = func(s *fakeScreen, p model.Point) {
		if p == ptPopup {
			s.hide("popup")
		}
	}
	e := newTestExecutor(s)

	out, err := e.ClickOnce(context.Background(), "start", time.Second, false)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	ops := s.snapshot()
	if len(ops) != 2 || ops[0].p != ptPopup || ops[1].p != ptTarget {
		t.Fatalf("expected popup tap then target tap, got %+v", ops)
	}
}

func TestClickOnce_ConfirmRetriesStaleFrame(t *testing.T) {
	s := newFakeScreen()
	s.show("start", ptTarget)
	taps := 0
	s.onTap = func(s *fakeScreen, p model.Point) {
		taps++
		if taps == 2 {
			s.hide("start")
		}
	}
	e := newTestExecutor(s)
	e.timing.ConfirmClick = true

	out, err := e.ClickOnce(context.Background(), "start", time.Second, false)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	if taps != 2 {
		t.Fatalf("expected a second tap after the stale first one, got %d", taps)
	}
}

func TestClickOnce_ContextCancel(t *testing.T) {
	s := newFakeScreen()
	e := newTestExecutor(s)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.ClickOnce(ctx, "missing", 5*time.Second, false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitForTransition_AlreadyThere(t *testing.T) {
	s := newFakeScreen()
	s.show("current", ptTarget)
	s.show("next", ptNext)
	e := newTestExecutor(s)

	out, err := e.WaitForTransition(context.Background(), "current", "next", time.Second)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	if n := s.count("tap"); n != 0 {
		t.Fatalf("expected no taps once next is visible, got %d", n)
	}
}

func TestWaitForTransition_TapsUntilNext(t *testing.T) {
	s := newFakeScreen()
	s.show("current", ptTarget)
	s.onTap = func(s *fakeScreen, p model.Point) {
		if p == ptTarget {
			s.hide("current")
			s.show("next", ptNext)
		}
	}
	e := newTestExecutor(s)

	out, err := e.WaitForTransition(context.Background(), "current", "next", time.Second)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	if n := s.count("tap"); n != 1 {
		t.Fatalf("expected one tap, got %d", n)
	}
}

func TestWaitForTransition_OverlayTakesPriority(t *testing.T) {
	s := newFakeScreen()
	s.show("current", ptTarget)
	s.show("popup", ptPopup)
	s.onTap = func(s *fakeScreen, p model.Point) {
		switch p {
		case ptPopup:
			s.hide("popup")
		case ptTarget:
			s.show("next", ptNext)
		}
	}
	e := newTestExecutor(s)

	out, err := e.WaitForTransition(context.Background(), "current", "next", time.Second)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	ops := s.snapshot()
	if len(ops) != 2 || ops[0].p != ptPopup || ops[1].p != ptTarget {
		t.Fatalf("expected popup dismissed before tapping current, got %+v", ops)
	}
}

func TestWaitForTransition_TimesOut(t *testing.T) {
	s := newFakeScreen()
	s.show("current", ptTarget)
	e := newTestExecutor(s)

	timeout := 40 * time.Millisecond
	start := time.Now()
	out, err := e.WaitForTransition(context.Background(), "current", "next", timeout)
	if err != nil || out != model.OutcomeTimedOut {
		t.Fatalf("expected timed out, got %s %v", out, err)
	}
	if elapsed := time.Since(start); elapsed > timeout+e.PollInterval()+50*time.Millisecond {
		t.Errorf("returned after %v", elapsed)
	}
}

func checkSingleFinalRelease(t *testing.T, ops []touchOp) {
	t.Helper()
	downs, ups := 0, 0
	held := false
	for _, op := range ops {
		switch op.kind {
		case "down":
			if held {
				t.Fatalf("second contact while held: %+v", ops)
			}
			held = true
			downs++
		case "up":
			if !held {
				t.Fatalf("release without contact: %+v", ops)
			}
			held = false
			ups++
		}
	}
	if held || downs != ups {
		t.Fatalf("contact left dangling: downs=%d ups=%d ops=%+v", downs, ups, ops)
	}
	if ops[len(ops)-1].kind != "up" {
		t.Fatalf("last op must be the release, got %+v", ops[len(ops)-1])
	}
}

func TestLongPress_EarlyLandmark(t *testing.T) {
	s := newFakeScreen()
	s.appearAfter["reconnect"] = 3
	e := newTestExecutor(s)

	out, err := e.LongPress(context.Background(), ptHold, time.Second)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	ops := s.snapshot()
	checkSingleFinalRelease(t, ops)
	if s.count("down") != 1 {
		t.Fatalf("expected one contact, got %+v", ops)
	}
}

func TestLongPress_OverlayInterruptsAndResumes(t *testing.T) {
	s := newFakeScreen()
	s.show("popup", ptPopup)
	s.appearAfter["reconnect"] = 4
	s.onTap = func(s *fakeScreen, p model.Point) {
		if p == ptPopup {
			s.hide("popup")
		}
	}
	e := newTestExecutor(s)

	out, err := e.LongPress(context.Background(), ptHold, time.Second)
	if err != nil || out != model.OutcomeSucceeded {
		t.Fatalf("expected success, got %s %v", out, err)
	}
	ops := s.snapshot()
	checkSingleFinalRelease(t, ops)
	want := []string{"down", "up", "tap", "down", "up"}
	if len(ops) != len(want) {
		t.Fatalf("expected %v, got %+v", want, ops)
	}
	for i, k := range want {
		if ops[i].kind != k {
			t.Fatalf("op %d: expected %s, got %+v", i, k, ops)
		}
	}
}

func TestLongPress_TimeoutReleases(t *testing.T) {
	s := newFakeScreen()
	e := newTestExecutor(s)

	out, err := e.LongPress(context.Background(), ptHold, 30*time.Millisecond)
	if err != nil || out != model.OutcomeTimedOut {
		t.Fatalf("expected timed out, got %s %v", out, err)
	}
	checkSingleFinalRelease(t, s.snapshot())
}

func TestLongPress_CancelReleases(t *testing.T) {
	s := newFakeScreen()
	e := newTestExecutor(s)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err := e.LongPress(ctx, ptHold, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	checkSingleFinalRelease(t, s.snapshot())
}

func TestMultitouch_JoinsBothWorkers(t *testing.T) {
	s := newFakeScreen()
	e := newTestExecutor(s)
	main := model.Point{X: 1350, Y: 1000}
	sub := model.Point{X: 1067, Y: 824}

	if err := e.Multitouch(context.Background(), main, sub, 0, 0); err != nil {
		t.Fatalf("Multitouch: %v", err)
	}

	ops := s.snapshot()
	perPointer := map[int][]touchOp{}
	for _, op := range ops {
		perPointer[op.pointer] = append(perPointer[op.pointer], op)
	}
	if len(perPointer[pointerSub]) != 2 {
		t.Fatalf("expected one sub tap (down+up), got %+v", perPointer[pointerSub])
	}
	if perPointer[pointerSub][0].p != sub {
		t.Fatalf("sub tap landed on %v", perPointer[pointerSub][0].p)
	}
	if len(perPointer[pointerMain]) < 4 {
		t.Fatalf("expected repeated main taps, got %+v", perPointer[pointerMain])
	}
	for pointer, list := range perPointer {
		for i, op := range list {
			want := "down"
			if i%2 == 1 {
				want = "up"
			}
			if op.kind != want {
				t.Fatalf("pointer %d: op %d is %s, want %s", pointer, i, op.kind, want)
			}
		}
	}
}
