package market

import (
	"context"
	"time"

	"autodelta/internal/executor"
	"autodelta/internal/model"
)

// ReadWallet opens the currency widget, reads the balance and closes the
// widget again. ok is false when the balance could not be recognized.
func (t *Trader) ReadWallet(ctx context.Context) (model.WalletReading, bool, error) {
	t.exec.Tap(ctx, t.cfg.CoinWidget)
	if err := executor.Sleep(ctx, t.cfg.Confirm()); err != nil {
		return model.WalletReading{}, false, err
	}
	amount, ok, err := t.perceiver.ReadNumber(ctx, t.cfg.CoinRegion)
	at := time.Now()
	t.exec.Tap(ctx, t.cfg.NeutralPoint)
	if ctx.Err() != nil {
		return model.WalletReading{}, false, ctx.Err()
	}
	if err != nil {
		t.log("debug", "金币识别出错", map[string]any{"error": err.Error()})
		ok = false
	}
	return model.WalletReading{Amount: amount, At: at}, ok, nil
}

// readPrice reads the previewed unit price of the open listing. Zero is
// treated as unreadable.
func (t *Trader) readPrice(ctx context.Context) (int, bool) {
	price, ok, err := t.perceiver.ReadNumber(ctx, t.cfg.PriceRegion)
	if err != nil {
		t.log("debug", "单价识别出错", map[string]any{"error": err.Error()})
		return 0, false
	}
	if !ok || price <= 0 {
		return 0, false
	}
	t.log("debug", "预览单价", map[string]any{"price": price})
	return price, true
}
