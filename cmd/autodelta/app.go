package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"autodelta/internal/bridge/adb"
	"autodelta/internal/bridge/touch"
	"autodelta/internal/bridge/vision"
	"autodelta/internal/config"
	"autodelta/internal/engine"
	"autodelta/internal/executor"
	"autodelta/internal/logbus"
	"autodelta/internal/market"
	"autodelta/internal/notify"
	"autodelta/internal/recovery"
	"autodelta/internal/store/sqlite"
)

// app holds every wired component of one process.
type app struct {
	cfg      config.Config
	bus      *logbus.Bus
	store    *sqlite.Store
	vision   *vision.Client
	touch    *touch.Client
	device   *adb.Device
	notifier *notify.EmailNotifier
	engine   *engine.Engine
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newBus(cfg config.Config) *logbus.Bus {
	bus := logbus.New(cfg.Log.Buffer)
	bus.SetLevel(cfg.Log.Level)
	if cfg.Log.Console {
		bus.AddSink(logbus.NewConsoleSink(os.Stdout))
	}
	return bus
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	bus := newBus(cfg)

	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	visionClient := vision.New(cfg.Bridge, bus)
	touchClient := touch.New(cfg.Bridge, bus)
	device := adb.New(adb.Options{Config: cfg.Device, Bus: bus})

	exec := executor.New(executor.Options{
		Perceiver: visionClient,
		Toucher:   touchClient,
		Bus:       bus,
		Targets:   cfg.Targets,
		Timing:    cfg.Timing,
		Limits:    cfg.Limits,
	})
	rec := recovery.New(recovery.Options{
		Exec:    exec,
		Device:  device,
		Bus:     bus,
		Targets: cfg.Targets,
		Config:  cfg.Recovery,
	})
	trader := market.New(market.Options{
		Exec:      exec,
		Perceiver: visionClient,
		Bus:       bus,
		Targets:   cfg.Targets,
		Config:    cfg.Market,
		Recorder:  store,
	})
	notifier := notify.NewEmailNotifier(notify.Options{
		Settings: store,
		Bus:      bus,
		Config:   cfg.Notify,
	})
	eng := engine.New(engine.Options{
		Exec:     exec,
		Recovery: rec,
		Trader:   trader,
		Device:   device,
		Store:    store,
		Bus:      bus,
		Notifier: notifier,
		Rounds:   cfg.Rounds,
	})

	return &app{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		vision:   visionClient,
		touch:    touchClient,
		device:   device,
		notifier: notifier,
		engine:   eng,
	}, nil
}

// close stops the engine first so its last rounds and mails are flushed.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.engine.Stop(ctx); err != nil {
		a.bus.Log("warn", "引擎停止超时", map[string]any{"error": err.Error()})
	}
	if err := a.notifier.Close(ctx); err != nil {
		a.bus.Log("warn", "邮件队列未发送完", map[string]any{"error": err.Error()})
	}
	_ = a.touch.Close()
	_ = a.store.Close()
	a.bus.Close()
}
