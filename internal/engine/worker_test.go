package engine

import (
	"context"
	"testing"
	"time"

	"github.com/clustercoder/bubbleOne/internal/audit"
	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/store"
)

func tick(t *testing.T, w *Worker) TickReport {
	t.Helper()
	r, err := w.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return r
}

func TestTickSkipsWhenRunning(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWorker(f.engine)
	w.running.Store(true)

	r := tick(t, w)
	if !r.Skipped {
		t.Error("Skipped = false, want true")
	}
	meta, _ := f.db.GetWorkerMeta()
	if meta.LastWorkerTickAt != nil {
		t.Error("skipped tick must not stamp")
	}
}

func TestTickStampsMeta(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWorker(f.engine)

	r := tick(t, w)
	if r.Skipped || !r.At.Equal(t0) {
		t.Errorf("report = %+v", r)
	}
	meta, _ := f.db.GetWorkerMeta()
	if meta.LastWorkerTickAt == nil || !meta.LastWorkerTickAt.Equal(t0) {
		t.Errorf("LastWorkerTickAt = %v, want %v", meta.LastWorkerTickAt, t0)
	}
	if meta.LastDailyRecomputeAt == nil {
		t.Error("first tick must run the daily recompute")
	}
}

func TestTickRealtimeDecay(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWorker(f.engine)
	f.seed(t, "h1", 70)
	f.db.StampDailyRecompute(t0)

	f.advance(10 * 24 * time.Hour)
	f.db.StampDailyRecompute(f.now)
	r := tick(t, w)
	if r.Decayed != 1 {
		t.Errorf("Decayed = %d, want 1", r.Decayed)
	}
	c, _ := f.db.GetContact("h1")
	if c.CurrentScore > 31.5 || c.CurrentScore < 31.4 {
		t.Errorf("CurrentScore = %v, want ~31.45", c.CurrentScore)
	}
	if f.rec.Count(audit.EventRealtimeDecay) != 1 {
		t.Errorf("realtime_decay events = %d, want 1", f.rec.Count(audit.EventRealtimeDecay))
	}

	if r := tick(t, w); r.Decayed != 0 {
		t.Errorf("second tick Decayed = %d, want 0", r.Decayed)
	}
}

func TestTickOverdueSweep(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWorker(f.engine)
	f.seed(t, "h1", 60)
	f.db.StampDailyRecompute(t0)

	later := t0.Add(time.Hour)
	actions := []*store.Action{
		{ContactHash: "h1", Type: core.ActionDraft, Text: "old draft", CreatedAt: t0.Add(-25 * time.Hour)},
		{ContactHash: "h1", Type: core.ActionReminder, Text: "old reminder", CreatedAt: t0.Add(-25 * time.Hour)},
		{ContactHash: "h1", Type: core.ActionDraft, Text: "fresh", CreatedAt: t0.Add(-time.Hour)},
		{ContactHash: "h1", Type: core.ActionDraft, Text: "scheduled", CreatedAt: t0.Add(-30 * time.Hour), ScheduledFor: &later},
	}
	for _, a := range actions {
		if err := f.db.AddAction(a); err != nil {
			t.Fatalf("AddAction: %v", err)
		}
	}

	r := tick(t, w)
	if r.OverdueIgnored != 2 {
		t.Errorf("OverdueIgnored = %d, want 2", r.OverdueIgnored)
	}
	if f.rec.Count(audit.EventOverdueAutoIgnore) != 2 {
		t.Errorf("overdue events = %d, want 2", f.rec.Count(audit.EventOverdueAutoIgnore))
	}
	if f.rec.Count(audit.EventFeedback) != 1 {
		t.Errorf("feedback events = %d, want 1 (draft only)", f.rec.Count(audit.EventFeedback))
	}

	c, _ := f.db.GetContact("h1")
	if c.Tuning.NegativeFeedback != 1 {
		t.Errorf("NegativeFeedback = %d, want 1", c.Tuning.NegativeFeedback)
	}
	for i, a := range actions {
		got, _ := f.db.GetAction(a.ID)
		wantIgnored := i < 2
		if (got.Status == core.ActionIgnored) != wantIgnored {
			t.Errorf("action %q status = %s", a.Text, got.Status)
		}
	}
}

func TestDailyRecomputeUTCBoundary(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWorker(f.engine)
	f.now = time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	f.seed(t, "h1", 60)

	if r := tick(t, w); !r.DailyRecompute || r.Recomputed != 1 {
		t.Fatalf("first tick = %+v, want recompute of 1 contact", r)
	}
	if f.rec.Count(audit.EventDailyRecompute) != 1 {
		t.Errorf("daily_recompute events = %d, want 1", f.rec.Count(audit.EventDailyRecompute))
	}

	f.now = time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	if r := tick(t, w); r.DailyRecompute {
		t.Error("same UTC date must not recompute")
	}

	// 19:00 at UTC-5 is already the next UTC day.
	f.now = time.Date(2026, 3, 1, 19, 0, 0, 0, time.FixedZone("EST", -5*3600))
	if r := tick(t, w); !r.DailyRecompute {
		t.Error("new UTC date must recompute regardless of local zone")
	}

	f.now = time.Date(2026, 3, 2, 0, 45, 0, 0, time.UTC)
	if r := tick(t, w); r.DailyRecompute {
		t.Error("recompute must run once per UTC date")
	}
}

func TestDailyRecomputeRetrainsLambda(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWorker(f.engine)
	f.seed(t, "h1", 60)

	tick(t, w)
	c, _ := f.db.GetContact("h1")
	if c.PreviousScore != 60 {
		t.Errorf("PreviousScore = %v, want 60", c.PreviousScore)
	}
	if c.Tuning.LambdaDecay < core.MinLambda || c.Tuning.LambdaDecay > core.MaxLambda {
		t.Errorf("LambdaDecay = %v out of bounds", c.Tuning.LambdaDecay)
	}
}

func TestDailyRecomputeFailureIsSkipped(t *testing.T) {
	f := newFixture(t, unavailablePlanner{})
	w := NewWorker(f.engine)
	f.seed(t, "h1", 60)
	f.seed(t, "h2", 65)

	r := tick(t, w)
	if r.Recomputed != 0 || r.RecomputeFailed != 2 {
		t.Errorf("report = %+v, want 2 failures", r)
	}
	meta, _ := f.db.GetWorkerMeta()
	if meta.LastDailyRecomputeAt == nil {
		t.Error("recompute must still be stamped")
	}
	c, _ := f.db.GetContact("h1")
	if c.CurrentScore != 60 {
		t.Errorf("CurrentScore = %v, want untouched", c.CurrentScore)
	}
}

func TestAutoTrigger(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWorker(f.engine)
	f.now = time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)

	f.seed(t, "low", 30)
	f.seed(t, "fine", 90)
	f.seed(t, "nudge", 60)
	f.seed(t, "freq", 80)
	if _, err := f.db.SetAutoNudge("nudge", true); err != nil {
		t.Fatalf("SetAutoNudge: %v", err)
	}
	if _, err := f.db.ApplyOutcome("freq", store.Outcome{
		Score:           80,
		ActionType:      core.ActionDeprioritize,
		AnomalyDetected: true,
		AnomalyReason:   core.AnomalyFrequencyDrop,
	}, f.now); err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	f.db.StampDailyRecompute(f.now)

	r := tick(t, w)
	if r.AutoTriggered != 3 {
		t.Fatalf("AutoTriggered = %d, want 3", r.AutoTriggered)
	}
	pending, _ := f.db.ListPendingActions()
	got := map[string]core.ActionType{}
	for _, a := range pending {
		if a.Origin != core.OriginAuto {
			t.Errorf("action %s origin = %s, want auto", a.ID, a.Origin)
		}
		got[a.ContactHash] = a.Type
	}
	want := map[string]core.ActionType{"low": core.ActionDraft, "nudge": core.ActionReminder, "freq": core.ActionDraft}
	for hash, typ := range want {
		if got[hash] != typ {
			t.Errorf("%s action = %q, want %q", hash, got[hash], typ)
		}
	}
	if _, ok := got["fine"]; ok {
		t.Error("healthy contact must not be triggered")
	}
	if meta, _ := f.db.GetWorkerMeta(); meta.AutoRuns != 3 {
		t.Errorf("AutoRuns = %d, want 3", meta.AutoRuns)
	}

	// Cooldown.
	f.advance(time.Hour)
	if r := tick(t, w); r.AutoTriggered != 0 {
		t.Errorf("AutoTriggered within cooldown = %d, want 0", r.AutoTriggered)
	}

	// Cooldown over, but the pending draft still blocks.
	f.advance(12 * time.Hour)
	if r := tick(t, w); r.AutoTriggered != 0 {
		t.Errorf("AutoTriggered with pending nudge = %d, want 0", r.AutoTriggered)
	}

	for _, a := range pending {
		if a.ContactHash == "low" {
			if _, err := f.engine.IgnoreAction(context.Background(), a.ID); err != nil {
				t.Fatalf("IgnoreAction: %v", err)
			}
		}
	}
	if r := tick(t, w); r.AutoTriggered != 1 {
		t.Errorf("AutoTriggered after resolve = %d, want 1", r.AutoTriggered)
	}
	if f.rec.Count(audit.EventAutoTrigger) != 4 {
		t.Errorf("auto_trigger events = %d, want 4", f.rec.Count(audit.EventAutoTrigger))
	}
}

func TestWorkerStartStop(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.opts.Interval = 5 * time.Millisecond
	w := NewWorker(f.engine)

	w.Start()
	w.Start()
	deadline := time.Now().Add(2 * time.Second)
	for {
		meta, err := f.db.GetWorkerMeta()
		if err != nil {
			t.Fatalf("GetWorkerMeta: %v", err)
		}
		if meta.LastWorkerTickAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	w.Stop()
}
