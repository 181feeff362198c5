package engine

import (
	"context"
	"errors"
	"fmt"

	"autodelta/internal/config"
	"autodelta/internal/executor"
	"autodelta/internal/market"
	"autodelta/internal/model"
	"autodelta/internal/notify"
)

type stepResult struct {
	outcome   model.Outcome
	purchased int
}

func stepLabel(i int, s config.StepConfig) string {
	switch {
	case s.Target != "" && s.Next != "":
		return fmt.Sprintf("#%d %s %s->%s", i+1, s.Kind, s.Target, s.Next)
	case s.Target != "":
		return fmt.Sprintf("#%d %s %s", i+1, s.Kind, s.Target)
	case s.Item != "":
		return fmt.Sprintf("#%d %s %s", i+1, s.Kind, s.Item)
	default:
		return fmt.Sprintf("#%d %s", i+1, s.Kind)
	}
}

// runStep executes one script line step.Repeat times, stopping at the first
// attempt that does not succeed. A step's delay is slept after each success.
func (e *Engine) runStep(ctx context.Context, step config.StepConfig) (stepResult, error) {
	repeat := step.Repeat
	if repeat <= 0 {
		repeat = 1
	}
	var total stepResult
	for i := 0; i < repeat; i++ {
		res, err := e.runOnce(ctx, step)
		total.outcome = res.outcome
		total.purchased += res.purchased
		if err != nil || !res.outcome.OK() {
			return total, err
		}
		if step.Kind != "sleep" && step.Kind != "multitouch" {
			if err := executor.Sleep(ctx, step.Delay()); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (e *Engine) runOnce(ctx context.Context, step config.StepConfig) (stepResult, error) {
	ok := stepResult{outcome: model.OutcomeSucceeded}

	switch step.Kind {
	case "click":
		out, err := e.exec.ClickOnce(ctx, step.Target, step.TimeoutOr(e.exec.DefaultTimeout()), step.Ad)
		return stepResult{outcome: out}, err

	case "step":
		out, err := e.exec.WaitForTransition(ctx, step.Target, step.Next, step.TimeoutOr(e.exec.DefaultTimeout()))
		return stepResult{outcome: out}, err

	case "waitFor":
		out, err := e.exec.WaitFor(ctx, step.Target, step.TimeoutOr(e.exec.DefaultTimeout()))
		return stepResult{outcome: out}, err

	case "longPress":
		if step.Target == "" {
			out, err := e.exec.LongPress(ctx, step.Point, step.TimeoutOr(e.exec.LongPressTimeout()))
			return stepResult{outcome: out}, err
		}
		out, err := e.exec.LongPressUntil(ctx, step.Point, step.Target, step.TimeoutOr(e.exec.LongPressTimeout()))
		return stepResult{outcome: out}, err

	case "multitouch":
		return ok, e.exec.Multitouch(ctx, step.Point, step.Sub, step.Timeout(), step.Delay())

	case "tap":
		e.exec.Tap(ctx, step.Point)
		return ok, ctx.Err()

	case "sleep":
		return ok, executor.Sleep(ctx, step.Delay())

	case "restart":
		if err := e.device.RestartProcess(ctx); err != nil {
			return stepResult{}, fmt.Errorf("restart: %w", err)
		}
		return ok, nil

	case "wifi":
		if err := e.device.SetConnectivity(ctx, step.Enabled); err != nil {
			return stepResult{}, fmt.Errorf("wifi: %w", err)
		}
		return ok, nil

	case "buy":
		return e.buy(ctx, step)

	case "sell":
		out, err := e.trader.Sell(ctx, step.Item, step.Quantity)
		if errors.Is(err, market.ErrItemNotFound) {
			e.log("warn", "仓库中未找到物品，跳过出售", map[string]any{"item": step.Item})
			return ok, nil
		}
		return stepResult{outcome: out}, err
	}
	return stepResult{}, fmt.Errorf("unknown step kind %q", step.Kind)
}

func (e *Engine) buy(ctx context.Context, step config.StepConfig) (stepResult, error) {
	res, err := e.trader.Buy(ctx, market.Order{
		Item:               step.Item,
		StockItem:          step.StockItem,
		TargetPrice:        step.TargetPrice,
		MaxAcceptablePrice: step.MaxAcceptablePrice,
		GoalCount:          step.GoalCount,
	})
	if err != nil {
		return stepResult{}, err
	}
	if res.Outcome.OK() {
		e.notify(ctx, notify.Event{
			Kind:      notify.EventAcquisitionDone,
			Item:      res.Session.Item,
			Purchased: res.Session.PurchasedCount,
			Goal:      res.Session.GoalCount,
			Spent:     res.Spent,
			Outcome:   string(res.Outcome),
		})
	}
	return stepResult{outcome: res.Outcome, purchased: res.Bought()}, nil
}
