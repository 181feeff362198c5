package executor

import (
	"context"
	"time"

	"autodelta/internal/model"
)

// ClickOnce polls until target is on screen and taps it once. With handleAd an
// advertisement is clicked through first; that spends the timeout budget but
// is not progress. A zero timeout still makes one lookup pass.
func (e *Executor) ClickOnce(ctx context.Context, target string, timeout time.Duration, handleAd bool) (model.Outcome, error) {
	interval := e.timing.PollInterval()
	start := time.Now()
	e.log("debug", "寻找目标", map[string]any{"target": target, "timeoutMs": timeout.Milliseconds()})

	for first := true; first || time.Since(start) < timeout; first = false {
		if handleAd {
			if ad, ok := e.Locate(ctx, e.targets.Ad); ok {
				e.Tap(ctx, ad.Point)
				e.log("info", "跳过广告", map[string]any{"point": ad.Point.String(), "for": target})
				if err := pace(ctx, start, timeout, interval*time.Duration(e.timing.AdPauseIntervals)); err != nil {
					return "", err
				}
				continue
			}
		}

		if m, ok := e.Locate(ctx, target); ok {
			// A tap under the confirmation overlay would land on the dialog.
			if e.dismissPopup(ctx) {
				if err := pace(ctx, start, timeout, interval); err != nil {
					return "", err
				}
				continue
			}
			e.Tap(ctx, m.Point)
			if !e.timing.ConfirmClick || e.confirmGone(ctx, target) {
				e.log("info", "点击成功", map[string]any{"target": target, "point": m.Point.String(), "score": m.Confidence})
				return model.OutcomeSucceeded, nil
			}
			e.log("debug", "点击后目标仍在，重试", map[string]any{"target": target})
		} else {
			e.dismissPopup(ctx)
		}

		if err := pace(ctx, start, timeout, interval); err != nil {
			return "", err
		}
	}

	e.log("warn", "超时未找到目标", map[string]any{"target": target, "elapsedMs": time.Since(start).Milliseconds()})
	return model.OutcomeTimedOut, nil
}

func (e *Executor) confirmGone(ctx context.Context, target string) bool {
	if err := Sleep(ctx, e.timing.PollInterval()); err != nil {
		return false
	}
	return !e.Present(ctx, target)
}

// WaitForTransition taps current until next appears. It is used where the
// exact tap that advances the screen is not known; if next is already visible
// nothing is tapped.
func (e *Executor) WaitForTransition(ctx context.Context, current, next string, timeout time.Duration) (model.Outcome, error) {
	interval := e.timing.PollInterval()
	start := time.Now()
	e.log("info", "流程推进", map[string]any{"from": current, "to": next})

	for first := true; first || time.Since(start) < timeout; first = false {
		if e.Present(ctx, next) {
			e.log("info", "流程推进成功", map[string]any{"to": next})
			return model.OutcomeSucceeded, nil
		}

		if e.dismissPopup(ctx) {
			if err := pace(ctx, start, timeout, interval); err != nil {
				return "", err
			}
			continue
		}

		if m, ok := e.Locate(ctx, current); ok {
			e.Tap(ctx, m.Point)
		}

		if err := pace(ctx, start, timeout, interval); err != nil {
			return "", err
		}
	}

	e.log("warn", "流程推进超时", map[string]any{"from": current, "to": next, "elapsedMs": time.Since(start).Milliseconds()})
	return model.OutcomeTimedOut, nil
}

// WaitFor polls until target is on screen without tapping it.
func (e *Executor) WaitFor(ctx context.Context, target string, timeout time.Duration) (model.Outcome, error) {
	interval := e.timing.PollInterval()
	start := time.Now()

	for first := true; first || time.Since(start) < timeout; first = false {
		if e.Present(ctx, target) {
			return model.OutcomeSucceeded, nil
		}
		e.dismissPopup(ctx)
		if err := pace(ctx, start, timeout, interval); err != nil {
			return "", err
		}
	}

	e.log("warn", "等待目标超时", map[string]any{"target": target})
	return model.OutcomeTimedOut, nil
}

// pace sleeps d, cut short at the end of the timeout window so a loop never
// overshoots its budget by more than one perception call.
func pace(ctx context.Context, start time.Time, timeout, d time.Duration) error {
	if left := timeout - time.Since(start); left < d {
		d = left
	}
	return Sleep(ctx, d)
}
