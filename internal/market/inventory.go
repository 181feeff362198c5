package market

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"autodelta/internal/executor"
	"autodelta/internal/model"
)

var countPattern = regexp.MustCompile(`(\d+)\s*[/|]\s*(\d+)`)

// parseCount extracts "selected/total" from the quantity selector text.
func parseCount(text string) (cur, total int, ok bool) {
	m := countPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	cur, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return cur, total, true
}

func (t *Trader) readCount(ctx context.Context) (int, int, bool) {
	text, err := t.perceiver.ReadText(ctx, t.cfg.CountRegion, "0123456789/")
	if err != nil {
		t.log("debug", "数量识别出错", map[string]any{"error": err.Error()})
		return 0, 0, false
	}
	return parseCount(text)
}

// Stock returns how many units of item the warehouse holds. The market is
// left closed on return. An item that is not in the warehouse yields 0 and
// ErrItemNotFound.
func (t *Trader) Stock(ctx context.Context, item string) (int, model.Outcome, error) {
	if out, err := t.openSellTab(ctx); err != nil || out.Escalates() {
		return 0, out, err
	}

	total := 0
	p, found, out, err := t.searchWarehouse(ctx, item)
	if err != nil || out.Escalates() {
		return 0, out, err
	}
	if found {
		t.exec.Tap(ctx, p)
		if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
			return 0, "", err
		}
		if _, n, ok := t.readCount(ctx); ok {
			total = n
			t.log("info", "仓库库存", map[string]any{"item": item, "total": total})
		} else {
			t.log("warn", "库存数量识别失败", map[string]any{"item": item})
		}
		if out, err := t.click(ctx, t.targets.Cancel); err != nil || out.Escalates() {
			return 0, out, err
		}
	}

	if out, err := t.back(ctx); err != nil || out.Escalates() {
		return 0, out, err
	}
	if !found {
		return 0, model.OutcomeSucceeded, ErrItemNotFound
	}
	return total, model.OutcomeSucceeded, nil
}

// Sell lists quantity units of item, or the whole stock when it holds fewer.
func (t *Trader) Sell(ctx context.Context, item string, quantity int) (model.Outcome, error) {
	if out, err := t.openSellTab(ctx); err != nil || out.Escalates() {
		return out, err
	}
	p, found, out, err := t.searchWarehouse(ctx, item)
	if err != nil || out.Escalates() {
		return out, err
	}
	if !found {
		if out, err := t.back(ctx); err != nil || out.Escalates() {
			return out, err
		}
		return model.OutcomeSucceeded, ErrItemNotFound
	}

	t.exec.Tap(ctx, p)
	if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
		return "", err
	}
	if out, err := t.selectQuantity(ctx, quantity); err != nil || out.Escalates() {
		return out, err
	}
	if out, err := t.click(ctx, t.targets.List); err != nil || out.Escalates() {
		return out, err
	}
	t.log("info", "已上架", map[string]any{"item": item, "quantity": quantity})
	return t.back(ctx)
}

// selectQuantity drags the quantity slider close to quantity, then nudges it
// one unit per tap beyond either end of the slider until the selector reads
// exactly quantity.
func (t *Trader) selectQuantity(ctx context.Context, quantity int) (model.Outcome, error) {
	left, right, y := t.cfg.SliderLeft, t.cfg.SliderRight, t.cfg.SliderY
	if _, total, ok := t.readCount(ctx); ok && total > 0 {
		ratio := float64(quantity) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
		x := left + int(float64(right-left)*ratio)
		t.exec.Tap(ctx, model.Point{X: x, Y: y})
		if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
			return "", err
		}
	}

	less := model.Point{X: left - t.cfg.NudgeOffset, Y: y}
	more := model.Point{X: right + t.cfg.NudgeOffset, Y: y}
	timeout := t.exec.DefaultTimeout()
	start := time.Now()
	for time.Since(start) < timeout {
		cur, total, ok := t.readCount(ctx)
		switch {
		case !ok:
			t.log("warn", "数量识别失败，重试", nil)
		case total <= quantity || cur == quantity:
			return model.OutcomeSucceeded, nil
		default:
			nudge, n := more, quantity-cur
			if cur > quantity {
				nudge, n = less, cur-quantity
			}
			for i := 0; i < n; i++ {
				t.exec.Tap(ctx, nudge)
			}
		}
		if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
			return "", err
		}
	}
	t.log("warn", "数量调整超时", map[string]any{"quantity": quantity})
	return model.OutcomeTimedOut, nil
}

func (t *Trader) openSellTab(ctx context.Context) (model.Outcome, error) {
	if out, err := t.openMarket(ctx); err != nil || out.Escalates() {
		return out, err
	}
	return t.click(ctx, t.targets.Sell)
}

// searchWarehouse tidies the warehouse and looks for item in each category,
// scrolling each category once.
func (t *Trader) searchWarehouse(ctx context.Context, item string) (model.Point, bool, model.Outcome, error) {
	for _, target := range []string{t.targets.Tidy, t.targets.ConfirmTidy} {
		if out, err := t.click(ctx, target); err != nil || out.Escalates() {
			return model.Point{}, false, out, err
		}
	}
	top := t.cfg.CategoryOrigin
	t.exec.Swipe(ctx, top.Offset(0, 270), top.Offset(0, -30), 300*time.Millisecond)
	if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
		return model.Point{}, false, "", err
	}

	for i := 0; i < t.cfg.Categories; i++ {
		t.exec.Tap(ctx, top.Offset(0, i*t.cfg.CategoryStep))
		if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
			return model.Point{}, false, "", err
		}
		if m, ok := t.exec.Locate(ctx, item); ok {
			return m.Point, true, model.OutcomeSucceeded, nil
		}
		t.exec.Swipe(ctx, t.cfg.ScrollFrom, t.cfg.ScrollTo, 300*time.Millisecond)
		if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
			return model.Point{}, false, "", err
		}
		if m, ok := t.exec.Locate(ctx, item); ok {
			return m.Point, true, model.OutcomeSucceeded, nil
		}
	}
	t.log("warn", "仓库中未找到物品", map[string]any{"item": item})
	return model.Point{}, false, model.OutcomeSucceeded, nil
}
