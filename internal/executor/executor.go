// Package executor implements the bounded-retry UI primitives the rest of the
// bot is written in: click a target, wait for a screen transition, hold a
// contact, and two-finger gestures. Transient overlays (ads, the reconnect
// confirmation dialog) are handled inside the polling loops and never reach
// the caller; a stalled screen is reported as model.OutcomeTimedOut.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"autodelta/internal/config"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
	"autodelta/internal/ports"
)

const (
	pointerPrimary = 0
	pointerMain    = 1
	pointerSub     = 2
)

type Options struct {
	Perceiver ports.Perceiver
	Toucher   ports.Toucher
	Bus       *logbus.Bus
	Targets   config.TargetsConfig
	Timing    config.TimingConfig
	Limits    config.LimitsConfig
}

type Executor struct {
	perceiver ports.Perceiver
	toucher   ports.Toucher
	bus       *logbus.Bus
	targets   config.TargetsConfig
	timing    config.TimingConfig

	// touchMu serializes writes on the touch channel so concurrent gesture
	// workers never interleave a down/up pair.
	touchMu sync.Mutex
	limiter *rate.Limiter
}

func New(opts Options) *Executor {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Limits.TouchQPS > 0 {
		burst := opts.Limits.TouchBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Limits.TouchQPS), burst)
	}
	return &Executor{
		perceiver: opts.Perceiver,
		toucher:   opts.Toucher,
		bus:       opts.Bus,
		targets:   opts.Targets,
		timing:    opts.Timing,
		limiter:   limiter,
	}
}

func (e *Executor) PollInterval() time.Duration {
	return e.timing.PollInterval()
}

func (e *Executor) DefaultTimeout() time.Duration {
	return e.timing.DefaultTimeout()
}

func (e *Executor) LongPressTimeout() time.Duration {
	return e.timing.LongPressTimeout()
}

func (e *Executor) Targets() config.TargetsConfig {
	return e.targets
}

// Locate looks a target up once. Perception errors count as a miss.
func (e *Executor) Locate(ctx context.Context, target string) (model.MatchResult, bool) {
	if target == "" {
		return model.MatchResult{}, false
	}
	m, ok, err := e.perceiver.Locate(ctx, target)
	if err != nil {
		if ctx.Err() == nil {
			e.log("debug", "识别失败", map[string]any{"target": target, "error": err.Error()})
		}
		return model.MatchResult{}, false
	}
	return m, ok
}

func (e *Executor) Present(ctx context.Context, target string) bool {
	_, ok := e.Locate(ctx, target)
	return ok
}

// Tap issues one tap at p. Touch failures are logged and reported as false.
func (e *Executor) Tap(ctx context.Context, p model.Point) bool {
	err := e.touch(ctx, func(ctx context.Context) error {
		return e.toucher.Tap(ctx, p)
	})
	if err != nil {
		if ctx.Err() == nil {
			e.log("warn", "点击失败", map[string]any{"point": p.String(), "error": err.Error()})
		}
		return false
	}
	return true
}

func (e *Executor) Swipe(ctx context.Context, from, to model.Point, d time.Duration) bool {
	err := e.touch(ctx, func(ctx context.Context) error {
		return e.toucher.Swipe(ctx, from, to, d)
	})
	if err != nil {
		if ctx.Err() == nil {
			e.log("warn", "滑动失败", map[string]any{"from": from.String(), "to": to.String(), "error": err.Error()})
		}
		return false
	}
	return true
}

func (e *Executor) touchDown(ctx context.Context, p model.Point, pointer int) error {
	return e.touch(ctx, func(ctx context.Context) error {
		return e.toucher.TouchDown(ctx, p, pointer)
	})
}

func (e *Executor) touchUp(ctx context.Context, p model.Point, pointer int) error {
	return e.touch(ctx, func(ctx context.Context) error {
		return e.toucher.TouchUp(ctx, p, pointer)
	})
}

func (e *Executor) touch(ctx context.Context, fn func(context.Context) error) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	e.touchMu.Lock()
	defer e.touchMu.Unlock()
	return fn(ctx)
}

// dismissPopup taps the reconnect confirmation overlay if it is on screen.
func (e *Executor) dismissPopup(ctx context.Context) bool {
	m, ok := e.Locate(ctx, e.targets.Popup)
	if !ok {
		return false
	}
	e.log("info", "关闭重连确认弹窗", map[string]any{"target": m.Target, "point": m.Point.String()})
	e.Tap(ctx, m.Point)
	return true
}

func (e *Executor) DismissPopup(ctx context.Context) bool {
	return e.dismissPopup(ctx)
}

func (e *Executor) log(level, msg string, fields map[string]any) {
	if e.bus != nil {
		e.bus.Log(level, msg, fields)
	}
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
