// Package recovery restores the game to the pre-mission staging screen after
// an action stalled. It restores the game, not the interrupted action: the
// caller still has to abandon its unit of work.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"autodelta/internal/config"
	"autodelta/internal/executor"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
	"autodelta/internal/ports"
)

// ErrRecoveryStalled is returned when a polling stage exceeds
// recovery.stageTimeoutMs.
var ErrRecoveryStalled = errors.New("recovery stalled")

type Options struct {
	Exec    *executor.Executor
	Device  ports.Device
	Bus     *logbus.Bus
	Targets config.TargetsConfig
	Config  config.RecoveryConfig
}

type Controller struct {
	exec    *executor.Executor
	device  ports.Device
	bus     *logbus.Bus
	targets config.TargetsConfig
	cfg     config.RecoveryConfig

	// One recovery at a time; a second caller waits for the first to finish.
	mu sync.Mutex
}

func New(opts Options) *Controller {
	return &Controller{
		exec:    opts.Exec,
		device:  opts.Device,
		bus:     opts.Bus,
		targets: opts.Targets,
		cfg:     opts.Config,
	}
}

// Recover runs every stage in order and blocks until the staging screen is
// reached, a stage bound expires, or ctx is done. The returned run carries
// the checkpoints reached even when err != nil.
func (c *Controller) Recover(ctx context.Context, reason string) (model.RecoveryRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := model.RecoveryRun{
		ID:          uuid.NewString(),
		Reason:      reason,
		StartedAtMs: time.Now().UnixMilli(),
	}
	c.log("warn", "进入恢复流程", map[string]any{"runId": run.ID, "reason": reason})
	c.publish(run)

	err := c.runStages(ctx, &run)
	run.FinishedAtMs = time.Now().UnixMilli()
	if err != nil {
		run.Error = err.Error()
		c.log("error", "恢复流程失败", map[string]any{"runId": run.ID, "error": err.Error()})
	} else {
		c.log("info", "恢复流程完成", map[string]any{"runId": run.ID, "costMs": run.FinishedAtMs - run.StartedAtMs})
	}
	c.publish(run)
	return run, err
}

func (c *Controller) runStages(ctx context.Context, run *model.RecoveryRun) error {
	if err := c.restart(ctx); err != nil {
		return err
	}
	c.checkpoint(run, model.RecoveryStageRestart, "")

	started, err := c.startGame(ctx)
	if err != nil {
		return err
	}
	c.checkpoint(run, model.RecoveryStageStartGame, started)

	seen, err := c.reachStaging(ctx)
	if err != nil {
		return err
	}
	c.checkpoint(run, model.RecoveryStageStaging, seen)

	if c.cfg.DismissPass {
		note := ""
		if m, ok := c.exec.Locate(ctx, c.targets.Pass); ok {
			c.exec.Tap(ctx, m.Point)
			note = c.targets.Pass
		}
		c.checkpoint(run, model.RecoveryStageDismissPass, note)
	}

	if err := executor.Sleep(ctx, c.cfg.Settle()); err != nil {
		return err
	}
	c.checkpoint(run, model.RecoveryStageSettle, "")
	return nil
}

func (c *Controller) restart(ctx context.Context) error {
	if err := c.device.SetConnectivity(ctx, true); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log("warn", "恢复网络失败", map[string]any{"error": err.Error()})
	}
	if err := c.device.RestartProcess(ctx); err != nil {
		return fmt.Errorf("restart process: %w", err)
	}
	c.log("info", "已重启游戏进程", nil)
	return executor.Sleep(ctx, c.cfg.RestartDelay())
}

// startGame waits for either entry landmark and taps it, clearing the
// reconnect and abandon-match dialogs on the way.
func (c *Controller) startGame(ctx context.Context) (string, error) {
	var tapped string
	err := c.poll(ctx, model.RecoveryStageStartGame, func() bool {
		for _, dialog := range []string{c.targets.Popup, c.targets.AbandonMatch} {
			if m, ok := c.exec.Locate(ctx, dialog); ok {
				c.log("info", "关闭对话框", map[string]any{"target": dialog})
				c.exec.Tap(ctx, m.Point)
				return false
			}
		}
		for _, entry := range []string{c.targets.Reconnect, c.targets.StartGame} {
			if m, ok := c.exec.Locate(ctx, entry); ok {
				c.exec.Tap(ctx, m.Point)
				tapped = entry
				return true
			}
		}
		return false
	})
	return tapped, err
}

func (c *Controller) reachStaging(ctx context.Context) (string, error) {
	var seen string
	err := c.poll(ctx, model.RecoveryStageStaging, func() bool {
		if m, ok := c.exec.Locate(ctx, c.targets.Ad); ok {
			c.log("info", "跳过广告", map[string]any{"point": m.Point.String()})
			c.exec.Tap(ctx, m.Point)
			seen = c.targets.Ad
			return true
		}
		if c.exec.Present(ctx, c.targets.Staging) {
			seen = c.targets.Staging
			return true
		}
		return false
	})
	return seen, err
}

// poll calls fn every recovery poll interval until it reports done. Without a
// stage timeout only ctx ends the wait.
func (c *Controller) poll(ctx context.Context, stage model.RecoveryStage, fn func() bool) error {
	var deadline <-chan time.Time
	if d := c.cfg.StageTimeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(c.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if fn() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w: stage %s", ErrRecoveryStalled, stage)
		case <-ticker.C:
		}
	}
}

func (c *Controller) checkpoint(run *model.RecoveryRun, stage model.RecoveryStage, note string) {
	run.Stages = append(run.Stages, model.StageCheckpoint{
		Stage: stage,
		AtMs:  time.Now().UnixMilli(),
		Note:  note,
	})
	c.log("info", "恢复阶段完成", map[string]any{"runId": run.ID, "stage": string(stage), "note": note})
}

func (c *Controller) publish(run model.RecoveryRun) {
	if c.bus != nil {
		run.Stages = append([]model.StageCheckpoint(nil), run.Stages...)
		c.bus.Publish("recovery", run)
	}
}

func (c *Controller) log(level, msg string, fields map[string]any) {
	if c.bus != nil {
		c.bus.Log(level, msg, fields)
	}
}
