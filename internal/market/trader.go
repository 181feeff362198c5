// Package market drives the in-game trading house: it buys an item up to a
// goal count while probing the real unit price with small lots, and reads or
// lists warehouse stock.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"autodelta/internal/config"
	"autodelta/internal/executor"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
	"autodelta/internal/ports"
)

var ErrItemNotFound = errors.New("item not found in warehouse")

// Recorder persists every purchase attempt. Failures are logged and ignored.
type Recorder interface {
	SaveTrade(ctx context.Context, rec model.TradeRecord) error
}

type Options struct {
	Exec      *executor.Executor
	Perceiver ports.Perceiver
	Bus       *logbus.Bus
	Targets   config.TargetsConfig
	Config    config.MarketConfig
	Recorder  Recorder
}

type Trader struct {
	exec      *executor.Executor
	perceiver ports.Perceiver
	bus       *logbus.Bus
	targets   config.TargetsConfig
	cfg       config.MarketConfig
	recorder  Recorder
}

func New(opts Options) *Trader {
	return &Trader{
		exec:      opts.Exec,
		perceiver: opts.Perceiver,
		bus:       opts.Bus,
		targets:   opts.Targets,
		cfg:       opts.Config,
		recorder:  opts.Recorder,
	}
}

type Order struct {
	// Item is the listing target in the trading house.
	Item string
	// StockItem is the warehouse target for the same goods; Item when empty.
	StockItem          string
	TargetPrice        int
	MaxAcceptablePrice int
	GoalCount          int
}

type Result struct {
	Outcome   model.Outcome         `json:"outcome"`
	Session   model.PurchaseSession `json:"session"`
	Spent     int                   `json:"spent"`
	Purchases int                   `json:"purchases"`
	// Stock is the warehouse count the session was seeded with.
	Stock int `json:"stock"`
}

// Bought is the number of units credited by this run's own purchases.
func (r Result) Bought() int {
	if n := r.Session.PurchasedCount - r.Stock; n > 0 {
		return n
	}
	return 0
}

// buyRun is the state of one Buy call.
type buyRun struct {
	sess      model.PurchaseSession
	wallet    model.WalletReading
	walletOK  bool
	spent     int
	purchases int
	stock     int
}

func (r *buyRun) result(out model.Outcome) Result {
	return Result{Outcome: out, Session: r.sess, Spent: r.spent, Purchases: r.purchases, Stock: r.stock}
}

// Buy acquires order.GoalCount units, counting units already in the warehouse.
// An escalating outcome means the run was abandoned mid-flow and the screen
// state is unknown; the caller is expected to recover.
func (t *Trader) Buy(ctx context.Context, order Order) (Result, error) {
	run := &buyRun{sess: model.PurchaseSession{
		ID:                 uuid.NewString(),
		Item:               order.Item,
		TargetPrice:        order.TargetPrice,
		MaxAcceptablePrice: order.MaxAcceptablePrice,
		GoalCount:          order.GoalCount,
		FailureThreshold:   t.cfg.FailureThreshold,
		Mode:               model.PurchaseModeProbing,
	}}
	t.log("info", "开始购买", map[string]any{
		"item":        order.Item,
		"targetPrice": order.TargetPrice,
		"maxPrice":    order.MaxAcceptablePrice,
		"goal":        order.GoalCount,
	})

	stockItem := order.StockItem
	if stockItem == "" {
		stockItem = order.Item
	}
	stock, out, err := t.Stock(ctx, stockItem)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return run.result(""), err
	}
	if out.Escalates() {
		return run.result(out), nil
	}
	run.sess.PurchasedCount = stock
	run.stock = stock
	t.progress(run)

	if out, err := t.openMarket(ctx); err != nil || out.Escalates() {
		return run.result(out), err
	}

	for !run.sess.Done() {
		if out, err := t.click(ctx, order.Item); err != nil || out.Escalates() {
			return run.result(out), err
		}
		out, err := t.workListing(ctx, run)
		if err != nil || out.Escalates() {
			return run.result(out), err
		}
		if out, err := t.back(ctx); err != nil || out.Escalates() {
			return run.result(out), err
		}
	}

	if out, err := t.back(ctx); err != nil || out.Escalates() {
		return run.result(out), err
	}
	t.log("info", "购买完成", map[string]any{
		"item":      order.Item,
		"purchased": run.sess.PurchasedCount,
		"goal":      run.sess.GoalCount,
		"spent":     run.spent,
	})
	return run.result(model.OutcomeSucceeded), nil
}

// workListing buys from the listing that is currently open until the goal is
// met or the listing is no longer worth buying from. Returning Succeeded
// without the goal met asks the caller to back out and refresh.
func (t *Trader) workListing(ctx context.Context, run *buyRun) (model.Outcome, error) {
	s := &run.sess
	for !s.Done() {
		s.Mode = model.PurchaseModeProbing
		price, ok := t.readPrice(ctx)
		if !ok {
			t.log("info", "预览价格无法识别，刷新", map[string]any{"item": s.Item})
			return model.OutcomeSucceeded, nil
		}
		if price > s.MaxAcceptablePrice {
			t.log("info", "预览价格过高，刷新", map[string]any{"price": price, "maxPrice": s.MaxAcceptablePrice})
			return model.OutcomeSucceeded, nil
		}

		// The listing was just opened or the price moved: take a fresh balance.
		if err := t.snapshotWallet(ctx, run); err != nil {
			return "", err
		}
		realized, escalate, err := t.purchase(ctx, run)
		if err != nil {
			return "", err
		}
		if escalate {
			return t.exhausted(run), nil
		}
		if realized > s.TargetPrice {
			t.log("info", "探测单价高于目标，刷新", map[string]any{"realized": realized, "targetPrice": s.TargetPrice})
			return model.OutcomeSucceeded, nil
		}

		t.log("info", "价格合适，进入批量模式", map[string]any{"realized": realized})
		s.Mode = model.PurchaseModeBatching
		for !s.Done() {
			realized, escalate, err = t.purchase(ctx, run)
			if err != nil {
				return "", err
			}
			if escalate {
				return t.exhausted(run), nil
			}
			if realized > s.TargetPrice {
				t.log("info", "价格上涨，回到探测模式", map[string]any{"realized": realized})
				break
			}
		}
	}
	return model.OutcomeSucceeded, nil
}

// purchase buys one lot in the session's current mode and returns the
// realized unit price. A purchase that cannot be priced counts as zero.
func (t *Trader) purchase(ctx context.Context, run *buyRun) (int, bool, error) {
	s := &run.sess
	lot, button := t.cfg.ProbeLot, t.cfg.ProbeButton
	if s.Mode == model.PurchaseModeBatching {
		lot, button = t.cfg.BatchLot, t.cfg.BatchButton
	}

	t.exec.Tap(ctx, button)
	if err := executor.Sleep(ctx, t.cfg.Confirm()); err != nil {
		return 0, false, err
	}
	t.exec.Tap(ctx, t.cfg.ConfirmButton)
	if err := executor.Sleep(ctx, t.cfg.Settle()); err != nil {
		return 0, false, err
	}

	before, beforeOK := run.wallet, run.walletOK
	after, afterOK, err := t.ReadWallet(ctx)
	if err != nil {
		return 0, false, err
	}
	run.wallet, run.walletOK = after, afterOK

	realized, spent := 0, 0
	if beforeOK && afterOK {
		spent = before.Spent(after)
		realized = before.UnitPrice(after, lot)
	}
	if realized > 0 {
		run.spent += spent
	}
	run.purchases++
	escalate := s.Record(lot, realized)

	t.log("info", "购买结果", map[string]any{
		"mode":      string(s.Mode),
		"lot":       lot,
		"realized":  realized,
		"purchased": s.PurchasedCount,
		"goal":      s.GoalCount,
		"failures":  s.ConsecutiveFailures,
	})
	t.saveTrade(ctx, model.TradeRecord{
		ID:            uuid.NewString(),
		SessionID:     s.ID,
		Item:          s.Item,
		Mode:          s.Mode,
		Lot:           lot,
		RealizedPrice: realized,
		Spent:         spent,
		CreatedAt:     time.Now(),
	})
	t.progress(run)
	return realized, escalate, nil
}

func (t *Trader) exhausted(run *buyRun) model.Outcome {
	t.log("error", "连续购买无效，需要恢复", map[string]any{
		"item":     run.sess.Item,
		"failures": run.sess.ConsecutiveFailures,
	})
	return model.OutcomeAmbiguousExhausted
}

func (t *Trader) snapshotWallet(ctx context.Context, run *buyRun) error {
	w, ok, err := t.ReadWallet(ctx)
	if err != nil {
		return err
	}
	run.wallet, run.walletOK = w, ok
	if !ok {
		t.log("warn", "金币读取失败", nil)
	}
	return nil
}

func (t *Trader) openMarket(ctx context.Context) (model.Outcome, error) {
	return t.click(ctx, t.targets.Market)
}

func (t *Trader) back(ctx context.Context) (model.Outcome, error) {
	return t.click(ctx, t.targets.Back)
}

// click taps target and waits for the screen to settle.
func (t *Trader) click(ctx context.Context, target string) (model.Outcome, error) {
	out, err := t.exec.ClickOnce(ctx, target, t.exec.DefaultTimeout(), false)
	if err != nil || out.Escalates() {
		return out, err
	}
	return out, executor.Sleep(ctx, t.cfg.Settle())
}

func (t *Trader) saveTrade(ctx context.Context, rec model.TradeRecord) {
	if t.bus != nil {
		t.bus.Publish("trade", rec)
	}
	if t.recorder == nil {
		return
	}
	if err := t.recorder.SaveTrade(ctx, rec); err != nil {
		t.log("warn", "保存交易记录失败", map[string]any{"error": err.Error()})
	}
}

func (t *Trader) progress(run *buyRun) {
	if t.bus != nil {
		t.bus.Publish("purchase_session", run.sess)
	}
}

func (t *Trader) log(level, msg string, fields map[string]any) {
	if t.bus != nil {
		t.bus.Log(level, msg, fields)
	}
}
