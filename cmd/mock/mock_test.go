package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"autodelta/internal/bridge/touch"
	"autodelta/internal/bridge/vision"
	"autodelta/internal/config"
)

func TestMockBridge_BuyingSpendsWallet(t *testing.T) {
	cfg, err := config.Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	scr := newScreen(cfg, 1)
	scr.failRate = 0
	srv := httptest.NewServer(newMux(scr))
	defer srv.Close()

	bridge := cfg.Bridge
	bridge.VisionURL = srv.URL
	bridge.TouchURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/touch"
	v := vision.New(bridge, nil)
	tc := touch.New(bridge, nil)
	defer tc.Close()
	ctx := context.Background()

	if _, ok, err := v.Locate(ctx, cfg.Targets.Market); err != nil || !ok {
		t.Fatalf("market should be on screen: ok=%v err=%v", ok, err)
	}
	if _, ok, err := v.Locate(ctx, cfg.Targets.Reconnect); err != nil || ok {
		t.Fatalf("reconnect should be hidden: ok=%v err=%v", ok, err)
	}

	before, ok, err := v.ReadNumber(ctx, cfg.Market.CoinRegion)
	if err != nil || !ok {
		t.Fatalf("wallet: %v", err)
	}
	if err := tc.Tap(ctx, cfg.Market.ProbeButton); err != nil {
		t.Fatal(err)
	}
	if err := tc.Tap(ctx, cfg.Market.ConfirmButton); err != nil {
		t.Fatal(err)
	}
	after, _, _ := v.ReadNumber(ctx, cfg.Market.CoinRegion)
	if spent := before - after; spent <= 0 || spent%cfg.Market.ProbeLot != 0 {
		t.Fatalf("expected a probe lot to be paid, spent %d", spent)
	}
}
