package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autodelta/internal/model"
)

// LongPress holds p until the reconnect landmark shows up.
func (e *Executor) LongPress(ctx context.Context, p model.Point, timeout time.Duration) (model.Outcome, error) {
	return e.LongPressUntil(ctx, p, e.targets.Reconnect, timeout)
}

// LongPressUntil keeps a contact down on p until release is on screen. If the
// confirmation overlay interrupts the hold, the contact is lifted, the overlay
// dismissed and the contact re-established. The contact is always lifted on
// return. Reaching the timeout without seeing release is TimedOut: holding a
// contact against a disconnected screen has no further effect.
func (e *Executor) LongPressUntil(ctx context.Context, p model.Point, release string, timeout time.Duration) (model.Outcome, error) {
	interval := e.timing.PollInterval()
	start := time.Now()
	e.log("info", "开始长按", map[string]any{"point": p.String(), "release": release})

	if err := e.touchDown(ctx, p, pointerPrimary); err != nil && ctx.Err() == nil {
		e.log("warn", "按下失败", map[string]any{"point": p.String(), "error": err.Error()})
	}
	defer func() {
		if err := e.touchUp(context.WithoutCancel(ctx), p, pointerPrimary); err != nil {
			e.log("warn", "抬起失败", map[string]any{"point": p.String(), "error": err.Error()})
		}
		e.log("info", "长按结束", map[string]any{"point": p.String(), "heldMs": time.Since(start).Milliseconds()})
	}()

	for first := true; first || time.Since(start) < timeout; first = false {
		if release != "" && e.Present(ctx, release) {
			e.log("info", "检测到释放标志，提前结束长按", map[string]any{"release": release})
			return model.OutcomeSucceeded, nil
		}

		if m, ok := e.Locate(ctx, e.targets.Popup); ok {
			e.log("warn", "长按被弹窗打断", map[string]any{"point": p.String()})
			if err := e.touchUp(ctx, p, pointerPrimary); err != nil {
				return "", fmt.Errorf("release before popup: %w", err)
			}
			e.Tap(ctx, m.Point)
			if err := e.touchDown(ctx, p, pointerPrimary); err != nil {
				return "", fmt.Errorf("press after popup: %w", err)
			}
		}

		if err := pace(ctx, start, timeout, interval); err != nil {
			return "", err
		}
	}

	e.log("warn", "长按超时", map[string]any{"point": p.String(), "release": release})
	return model.OutcomeTimedOut, nil
}

// Multitouch performs a two-finger gesture: one worker taps main repeatedly
// for duration while the other waits subDelay and taps sub once. Both workers
// are joined before returning.
func (e *Executor) Multitouch(ctx context.Context, main, sub model.Point, duration, subDelay time.Duration) error {
	if duration <= 0 {
		duration = e.timing.MultitouchDuration()
	}
	if subDelay <= 0 {
		subDelay = e.timing.MultitouchSubDelay()
	}
	hold := e.timing.TapHold()
	e.log("info", "执行多点触控", map[string]any{"main": main.String(), "sub": sub.String()})

	var (
		wg      sync.WaitGroup
		mainErr error
		subErr  error
		taps    int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		taps, mainErr = e.spamTap(ctx, main, pointerMain, duration, hold)
	}()
	go func() {
		defer wg.Done()
		if err := Sleep(ctx, subDelay); err != nil {
			subErr = err
			return
		}
		subErr = e.pointerTap(ctx, sub, pointerSub, hold)
	}()
	wg.Wait()

	e.log("debug", "多点触控完成", map[string]any{"mainTaps": taps})
	return errors.Join(mainErr, subErr)
}

func (e *Executor) spamTap(ctx context.Context, p model.Point, pointer int, duration, hold time.Duration) (int, error) {
	start := time.Now()
	count := 0
	for time.Since(start) < duration {
		if err := e.pointerTap(ctx, p, pointer, hold); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *Executor) pointerTap(ctx context.Context, p model.Point, pointer int, hold time.Duration) error {
	if err := e.touchDown(ctx, p, pointer); err != nil {
		return err
	}
	sleepErr := Sleep(ctx, hold)
	if err := e.touchUp(context.WithoutCancel(ctx), p, pointer); err != nil {
		return err
	}
	return sleepErr
}
