// Package engine runs the configured round script over and over, escalating
// stalled rounds to the recovery controller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autodelta/internal/config"
	"autodelta/internal/executor"
	"autodelta/internal/logbus"
	"autodelta/internal/market"
	"autodelta/internal/model"
	"autodelta/internal/notify"
	"autodelta/internal/ports"
	"autodelta/internal/recovery"
)

var (
	// ErrRoundAborted wraps the reason a round was abandoned after recovery.
	ErrRoundAborted = errors.New("round aborted")
	ErrNoSteps      = errors.New("rounds.steps is empty")
)

const historySize = 20

// Store persists rounds and recovery runs. A nil Store disables persistence.
type Store interface {
	SaveRound(ctx context.Context, r model.RoundState) (model.RoundState, error)
	SaveRecovery(ctx context.Context, run model.RecoveryRun) error
}

type Options struct {
	Exec     *executor.Executor
	Recovery *recovery.Controller
	Trader   *market.Trader
	Device   ports.Device
	Store    Store
	Bus      *logbus.Bus
	Notifier notify.Notifier
	Rounds   config.RoundsConfig
}

type Engine struct {
	exec     *executor.Executor
	recovery *recovery.Controller
	trader   *market.Trader
	device   ports.Device
	store    Store
	bus      *logbus.Bus
	notifier notify.Notifier
	rounds   config.RoundsConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	lastErr error
	state   model.EngineState

	// round number and attempt of the most recent RunRound call
	lastRound   int
	lastAttempt int
}

func New(opts Options) *Engine {
	return &Engine{
		exec:     opts.Exec,
		recovery: opts.Recovery,
		trader:   opts.Trader,
		device:   opts.Device,
		store:    opts.Store,
		bus:      opts.Bus,
		notifier: opts.Notifier,
		rounds:   opts.Rounds,
	}
}

// Start launches the round loop in the background. It is a no-op when the
// loop is already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if len(e.rounds.Steps) == 0 {
		e.mu.Unlock()
		return ErrNoSteps
	}
	e.running = true
	e.state.Running = true
	e.lastErr = nil
	e.lastRound, e.lastAttempt = 0, 0
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	e.wg.Add(1)
	e.mu.Unlock()

	e.log("info", "引擎已启动", map[string]any{"steps": len(e.rounds.Steps), "rounds": e.rounds.Count})
	go func() {
		defer e.wg.Done()
		defer close(done)
		err := e.loop(runCtx)
		e.finish(err)
	}()
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	wasRunning := e.running
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the loop and blocks until every configured round has completed
// or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.lastErr
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Stop(stopCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) State() model.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.state
	if e.state.Current != nil {
		cur := *e.state.Current
		out.Current = &cur
	}
	out.History = append([]model.RoundState(nil), e.state.History...)
	return out
}

// loop runs rounds until rounds.count rounds completed. An aborted round is
// retried under the same number after rounds.retryDelayMs.
func (e *Engine) loop(ctx context.Context) error {
	round := 1
	completed := 0
	for e.rounds.Count <= 0 || completed < e.rounds.Count {
		_, err := e.RunRound(ctx, round)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			completed++
			round++
			continue
		}
		if !errors.Is(err, ErrRoundAborted) {
			return err
		}
		if err := executor.Sleep(ctx, e.rounds.RetryDelay()); err != nil {
			return err
		}
	}
	e.log("info", "全部回合完成", map[string]any{"rounds": completed})
	return nil
}

func (e *Engine) finish(err error) {
	e.mu.Lock()
	e.running = false
	e.state.Running = false
	e.cancel = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		e.lastErr = err
	}
	st := e.state
	e.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		e.log("error", "引擎异常退出", map[string]any{"error": err.Error()})
	} else {
		e.log("info", "引擎已停止", map[string]any{"completed": st.Completed, "aborted": st.Aborted})
	}
}

// RunRound executes the script once as round n. The round is aborted on the
// first escalating step that is not optional: the game is recovered and the
// returned error wraps ErrRoundAborted.
func (e *Engine) RunRound(ctx context.Context, n int) (model.RoundState, error) {
	e.mu.Lock()
	attempt := 1
	if n == e.lastRound {
		attempt = e.lastAttempt + 1
	}
	e.lastRound, e.lastAttempt = n, attempt
	e.mu.Unlock()

	st := model.RoundState{
		Round:       n,
		Attempt:     attempt,
		Running:     true,
		StartedAtMs: time.Now().UnixMilli(),
	}
	st = e.saveRound(ctx, st)
	e.setCurrent(st)
	e.log("info", "回合开始", map[string]any{"round": n, "attempt": attempt})

	for i, step := range e.rounds.Steps {
		st.Step = stepLabel(i, step)
		e.setCurrent(st)

		res, err := e.runStep(ctx, step)
		st.Purchased += res.purchased
		if ctx.Err() != nil {
			st.LastError = ctx.Err().Error()
			return e.endRound(ctx, st, ""), ctx.Err()
		}

		reason := ""
		switch {
		case err != nil:
			reason = fmt.Sprintf("%s: %v", st.Step, err)
		case res.outcome.Escalates() && step.Optional:
			e.log("warn", "可选步骤未完成，继续", map[string]any{"step": st.Step, "outcome": string(res.outcome)})
		case res.outcome.Escalates():
			reason = fmt.Sprintf("%s: %s", st.Step, res.outcome)
		}
		if reason == "" {
			continue
		}

		st.LastOutcome = res.outcome
		if err != nil {
			st.LastError = err.Error()
		}
		return e.abortRound(ctx, st, reason)
	}

	st.LastOutcome = model.OutcomeSucceeded
	st = e.endRound(ctx, st, "completed")
	e.log("info", "回合完成", map[string]any{"round": n, "attempt": attempt, "purchased": st.Purchased})
	return st, nil
}

func (e *Engine) abortRound(ctx context.Context, st model.RoundState, reason string) (model.RoundState, error) {
	e.log("warn", "回合中止，开始恢复", map[string]any{"round": st.Round, "reason": reason})
	if st.LastError == "" {
		st.LastError = reason
	}
	st = e.endRound(ctx, st, "aborted")
	e.notify(ctx, notify.Event{
		Kind:    notify.EventRoundAborted,
		Round:   st.Round,
		Outcome: string(st.LastOutcome),
		Message: reason,
	})

	run, err := e.recovery.Recover(ctx, reason)
	e.saveRecovery(ctx, run)
	e.mu.Lock()
	e.state.Recoveries++
	e.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		e.notify(ctx, notify.Event{Kind: notify.EventRecoveryFailed, Round: st.Round, Message: err.Error()})
		return st, fmt.Errorf("recover after %s: %w", reason, err)
	}
	return st, fmt.Errorf("%w: %s", ErrRoundAborted, reason)
}

// endRound closes st, persists it and moves it into the history.
func (e *Engine) endRound(ctx context.Context, st model.RoundState, result string) model.RoundState {
	st.Running = false
	st.FinishedAtMs = time.Now().UnixMilli()
	st = e.saveRound(context.WithoutCancel(ctx), st)

	e.mu.Lock()
	switch result {
	case "completed":
		e.state.Completed++
	case "aborted":
		e.state.Aborted++
	}
	e.state.Current = nil
	e.state.History = append(e.state.History, st)
	if len(e.state.History) > historySize {
		e.state.History = e.state.History[len(e.state.History)-historySize:]
	}
	e.mu.Unlock()

	e.publish(st)
	return st
}

func (e *Engine) setCurrent(st model.RoundState) {
	e.mu.Lock()
	cur := st
	e.state.Current = &cur
	e.mu.Unlock()
	e.publish(st)
}

func (e *Engine) saveRound(ctx context.Context, st model.RoundState) model.RoundState {
	if e.store == nil {
		return st
	}
	saved, err := e.store.SaveRound(ctx, st)
	if err != nil {
		e.log("warn", "保存回合失败", map[string]any{"round": st.Round, "error": err.Error()})
		return st
	}
	return saved
}

func (e *Engine) saveRecovery(ctx context.Context, run model.RecoveryRun) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveRecovery(context.WithoutCancel(ctx), run); err != nil {
		e.log("warn", "保存恢复记录失败", map[string]any{"runId": run.ID, "error": err.Error()})
	}
}

func (e *Engine) notify(ctx context.Context, evt notify.Event) {
	if e.notifier == nil {
		return
	}
	evt.AtMs = time.Now().UnixMilli()
	e.notifier.Notify(ctx, evt)
}

func (e *Engine) publish(st model.RoundState) {
	if e.bus != nil {
		e.bus.Publish("round_state", st)
	}
}

func (e *Engine) log(level, msg string, fields map[string]any) {
	if e.bus != nil {
		e.bus.Log(level, msg, fields)
	}
}
