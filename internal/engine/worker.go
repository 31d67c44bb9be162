package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clustercoder/bubbleOne/internal/audit"
	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/planner"
	"github.com/clustercoder/bubbleOne/internal/store"
)

// TickReport summarizes one worker tick.
type TickReport struct {
	Skipped         bool      `json:"skipped"`
	At              time.Time `json:"at"`
	Decayed         int       `json:"decayed"`
	OverdueIgnored  int       `json:"overdue_ignored"`
	DailyRecompute  bool      `json:"daily_recompute"`
	Recomputed      int       `json:"recomputed"`
	RecomputeFailed int       `json:"recompute_failed"`
	AutoTriggered   int       `json:"auto_triggered"`
}

// Worker runs the periodic decay, overdue sweep, daily recompute and
// auto-trigger passes. Only one tick runs at a time.
type Worker struct {
	engine  *Engine
	log     *slog.Logger
	running atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewWorker creates a worker over e. It shares the engine's clock, planner
// and audit sink.
func NewWorker(e *Engine) *Worker {
	return &Worker{engine: e, log: e.log.With("component", "worker")}
}

// Start runs Tick every interval until Stop. Calling Start twice is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		return
	}
	interval := w.engine.opts.Interval
	if interval <= 0 {
		interval = DefaultOptions().Interval
	}
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.Tick(context.Background()); err != nil {
					w.log.Error("tick failed", "err", err)
				}
			case <-stop:
				return
			}
		}
	}(w.stopCh, w.done)
	w.log.Info("worker started", "interval", interval)
}

// Stop halts the ticker and waits for an in-flight tick to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	stop, done := w.stopCh, w.done
	w.stopCh, w.done = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	w.log.Info("worker stopped")
}

// Tick runs one pass. A tick that starts while another is running returns
// immediately with Skipped set. Step failures are joined into the returned
// error; later steps still run.
func (w *Worker) Tick(ctx context.Context) (TickReport, error) {
	if !w.running.CompareAndSwap(false, true) {
		return TickReport{Skipped: true}, nil
	}
	defer w.running.Store(false)

	e := w.engine
	now := e.clock()
	report := TickReport{At: now}
	var errs []error

	if err := e.DB.StampTick(now); err != nil {
		errs = append(errs, err)
	}

	decayed, err := e.DB.ApplyRealtimeDecay(now)
	if err != nil {
		errs = append(errs, err)
	} else if decayed > 0 {
		report.Decayed = decayed
		e.Audit.Emit(ctx, audit.EventRealtimeDecay, map[string]any{"contacts": decayed})
	}

	ignored, err := w.sweepOverdue(ctx, now)
	report.OverdueIgnored = ignored
	if err != nil {
		errs = append(errs, err)
	}

	meta, err := e.DB.GetWorkerMeta()
	if err != nil {
		errs = append(errs, err)
	} else if recomputeDue(meta.LastDailyRecomputeAt, now) {
		report.DailyRecompute = true
		report.Recomputed, report.RecomputeFailed, err = w.recompute(ctx, now)
		if err != nil {
			errs = append(errs, err)
		}
	}

	triggered, err := w.autoTrigger(ctx, now)
	report.AutoTriggered = triggered
	if err != nil {
		errs = append(errs, err)
	}

	return report, errors.Join(errs...)
}

// recomputeDue reports whether the daily recompute has not yet run on now's
// UTC calendar date.
func recomputeDue(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ly != ny || lm != nm || ld != nd
}

func (w *Worker) sweepOverdue(ctx context.Context, now time.Time) (int, error) {
	e := w.engine
	overdue, err := e.DB.ListOverduePendingActions(e.opts.OverdueIgnore, now)
	if err != nil {
		return 0, err
	}

	ignored := 0
	for i := range overdue {
		a, err := e.DB.IgnoreAction(overdue[i].ID, now)
		if err != nil {
			w.log.Warn("overdue ignore failed", "action_id", overdue[i].ID, "err", err)
			continue
		}
		if a == nil {
			continue
		}
		ignored++
		e.Audit.Emit(ctx, audit.EventOverdueAutoIgnore, map[string]any{
			"action_id":    a.ID,
			"contact_hash": a.ContactHash,
			"action_type":  string(a.Type),
			"origin":       string(a.Origin),
		})
		if a.Type.IsDraft() {
			if _, err := e.feedback(ctx, a, false, audit.EventOverdueAutoIgnore); err != nil {
				w.log.Warn("overdue feedback failed", "action_id", a.ID, "err", err)
			}
		}
	}
	return ignored, nil
}

func (w *Worker) recompute(ctx context.Context, now time.Time) (done, failed int, err error) {
	e := w.engine
	contacts, err := e.DB.ListContactsWithEvents()
	if err != nil {
		return 0, 0, err
	}

	for i := range contacts {
		if err := w.recomputeContact(ctx, &contacts[i], now); err != nil {
			failed++
			w.log.Warn("daily recompute failed", "contact_hash", contacts[i].ContactHash, "err", err)
			continue
		}
		done++
	}

	if err := e.DB.StampDailyRecompute(now); err != nil {
		return done, failed, err
	}
	w.log.Info("daily recompute", "contacts", done, "failed", failed)
	return done, failed, nil
}

func (w *Worker) recomputeContact(ctx context.Context, c *store.Contact, now time.Time) error {
	e := w.engine
	events, err := e.DB.EventWindow(c.ContactHash, e.opts.RecomputeWindow)
	if err != nil {
		return err
	}
	recent, prior, err := e.DB.InteractionCounts(c.ContactHash, now)
	if err != nil {
		return err
	}

	res, err := e.plan(ctx, planner.Request{
		ContactHash:   c.ContactHash,
		Alias:         c.Alias,
		Events:        events,
		Recent:        events,
		PreviousScore: c.CurrentScore,
		PreviousAt:    c.LastUpdatedAt,
		Tuning:        c.Tuning,
		Recent7d:      recent,
		Prior7d:       prior,
		RetrainLambda: true,
		FromBaseline:  true,
		AsOf:          now,
	})
	if err != nil {
		return err
	}

	updated, err := e.DB.ApplyOutcome(c.ContactHash, outcomeFrom(res, true), now)
	if err != nil {
		return err
	}
	e.Audit.Emit(ctx, audit.EventDailyRecompute, map[string]any{
		"contact_hash":   c.ContactHash,
		"previous_score": updated.PreviousScore,
		"score":          updated.CurrentScore,
		"lambda_decay":   updated.Tuning.LambdaDecay,
		"anomaly_reason": string(updated.AnomalyReason),
	})
	return nil
}

// eligible reports whether c warrants an automatic action.
func (w *Worker) eligible(c *store.Contact) bool {
	threshold := w.engine.opts.AutoTriggerThreshold
	return c.CurrentScore <= threshold ||
		c.RiskLevel == core.RiskHigh ||
		c.AnomalyReason.IsFrequencyDrop() ||
		(c.AutoNudgeEnabled && c.CurrentScore < autoNudgeBelow)
}

func (w *Worker) autoTrigger(ctx context.Context, now time.Time) (int, error) {
	e := w.engine
	contacts, err := e.DB.ListContacts()
	if err != nil {
		return 0, err
	}

	triggered := 0
	for i := range contacts {
		c := &contacts[i]
		if !w.eligible(c) {
			continue
		}
		if c.LastAutoActionAt != nil && now.Sub(*c.LastAutoActionAt) < e.opts.Cooldown {
			continue
		}
		a, err := w.triggerContact(ctx, c, now)
		if err != nil {
			w.log.Warn("auto trigger failed", "contact_hash", c.ContactHash, "err", err)
			continue
		}
		if a != nil {
			triggered++
		}
	}
	return triggered, nil
}

func (w *Worker) triggerContact(ctx context.Context, c *store.Contact, now time.Time) (*store.Action, error) {
	e := w.engine
	a := &store.Action{
		ContactHash: c.ContactHash,
		Type:        core.ActionReminder,
		Text:        reminderText(c),
		Origin:      core.OriginAuto,
		CreatedAt:   now,
	}
	if c.CurrentScore <= e.opts.AutoTriggerThreshold || c.AnomalyReason.IsFrequencyDrop() {
		a.Type = core.ActionDraft
		a.Text = c.DraftMessage
		if a.Text == "" {
			a.Text = planner.FallbackDraft(c.Alias)
		}
	}

	created, err := e.DB.AddActionIfNone(a, core.NudgeActionTypes...)
	if err != nil || !created {
		return nil, err
	}
	if err := e.DB.StampAutoAction(c.ContactHash, now); err != nil {
		return nil, fmt.Errorf("stamp auto action: %w", err)
	}
	if err := e.DB.IncrementAutoRuns(); err != nil {
		return nil, err
	}
	e.Audit.Emit(ctx, audit.EventAutoTrigger, map[string]any{
		"action_id":      a.ID,
		"contact_hash":   c.ContactHash,
		"action_type":    string(a.Type),
		"score":          c.CurrentScore,
		"risk_level":     string(c.RiskLevel),
		"anomaly_reason": string(c.AnomalyReason),
	})
	return a, nil
}
