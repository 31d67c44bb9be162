package store

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ev(id string, ts time.Time, sentiment float64) core.MetadataEvent {
	return core.MetadataEvent{
		EventID:         id,
		ContactHash:     "abc",
		Timestamp:       ts,
		InteractionType: core.InteractionText,
		Sentiment:       sentiment,
		Intent:          "check_in",
		Summary:         "Checked in about the week.",
		Metadata:        map[string]any{"channel": "sms"},
	}
}

func TestAppendEventsCreatesContact(t *testing.T) {
	db := clockDB(t, t0)

	inserted, err := db.AppendEvents("abc", "Sam", []core.MetadataEvent{
		ev("e2", t0.Add(-1*time.Hour), 0.1),
		ev("e1", t0.Add(-2*time.Hour), 0.2),
	})
	if err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if len(inserted) != 2 {
		t.Errorf("inserted = %d, want 2", len(inserted))
	}

	c, err := db.GetContact("abc")
	if err != nil || c == nil {
		t.Fatalf("GetContact: %v, %v", c, err)
	}
	if c.CurrentScore != core.DefaultScore || c.Band != core.BandFading || c.RiskLevel != core.RiskMedium {
		t.Errorf("new contact = %.1f/%s/%s, want 50/fading/medium", c.CurrentScore, c.Band, c.RiskLevel)
	}
	if c.Tuning != core.DefaultTuning() {
		t.Errorf("Tuning = %+v, want defaults", c.Tuning)
	}
	if c.EventsCount != 2 {
		t.Errorf("EventsCount = %d, want 2", c.EventsCount)
	}
	if c.LastInteractionAt == nil || !c.LastInteractionAt.Equal(t0.Add(-1*time.Hour)) {
		t.Errorf("LastInteractionAt = %v", c.LastInteractionAt)
	}
	if !c.LastUpdatedAt.Equal(t0) {
		t.Errorf("LastUpdatedAt = %v, want %v", c.LastUpdatedAt, t0)
	}
}

func TestAppendEventsSkipsDuplicates(t *testing.T) {
	db := clockDB(t, t0)

	db.AppendEvents("abc", "Sam", []core.MetadataEvent{ev("e1", t0, 0)})
	inserted, err := db.AppendEvents("abc", "", []core.MetadataEvent{ev("e1", t0, 0), ev("e2", t0, 0)})
	if err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if len(inserted) != 1 || inserted[0].EventID != "e2" {
		t.Errorf("inserted = %+v, want only e2", inserted)
	}

	c, _ := db.GetContact("abc")
	if c.EventsCount != 2 {
		t.Errorf("EventsCount = %d, want 2", c.EventsCount)
	}
	if c.Alias != "Sam" {
		t.Errorf("Alias = %q, empty alias must not overwrite", c.Alias)
	}
}

func TestAppendEventsIDScopedToContact(t *testing.T) {
	db := clockDB(t, t0)

	if _, err := db.AppendEvents("abc", "Sam", []core.MetadataEvent{ev("e1", t0, 0)}); err != nil {
		t.Fatalf("AppendEvents abc: %v", err)
	}
	inserted, err := db.AppendEvents("xyz", "Alex", []core.MetadataEvent{ev("e1", t0, 0)})
	if err != nil {
		t.Fatalf("AppendEvents xyz: %v", err)
	}
	if len(inserted) != 1 || inserted[0].ContactHash != "xyz" {
		t.Errorf("inserted = %+v, want e1 for xyz", inserted)
	}

	c, _ := db.GetContact("xyz")
	if c == nil || c.EventsCount != 1 {
		t.Errorf("contact = %+v, want one event", c)
	}
}

func TestAppendZeroEvents(t *testing.T) {
	db := clockDB(t, t0)

	inserted, err := db.AppendEvents("abc", "Sam", nil)
	if err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if len(inserted) != 0 {
		t.Errorf("inserted = %d, want 0", len(inserted))
	}
	c, _ := db.GetContact("abc")
	if c == nil || c.EventsCount != 0 || c.LastInteractionAt != nil {
		t.Errorf("contact = %+v, want bookkeeping only", c)
	}
}

func TestEventWindow(t *testing.T) {
	db := clockDB(t, t0)
	var events []core.MetadataEvent
	for i := 0; i < 5; i++ {
		events = append(events, ev(string(rune('a'+i)), t0.Add(time.Duration(-i)*time.Hour), float64(i)/10))
	}
	db.AppendEvents("abc", "Sam", events)

	window, err := db.EventWindow("abc", 3)
	if err != nil {
		t.Fatalf("EventWindow: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("len = %d, want 3", len(window))
	}
	// Most recent three, oldest first.
	want := []string{"c", "b", "a"}
	for i, id := range want {
		if window[i].EventID != id {
			t.Errorf("window[%d] = %s, want %s", i, window[i].EventID, id)
		}
	}
	if window[0].Metadata["channel"] != "sms" {
		t.Errorf("metadata = %v, want channel sms", window[0].Metadata)
	}

	all, _ := db.EventWindow("abc", 0)
	if len(all) != 5 {
		t.Errorf("full window = %d, want 5", len(all))
	}
}

func TestInteractionCounts(t *testing.T) {
	db := clockDB(t, t0)
	day := 24 * time.Hour
	db.AppendEvents("abc", "Sam", []core.MetadataEvent{
		ev("r1", t0.Add(-1*day), 0),
		ev("p1", t0.Add(-8*day), 0),
		ev("p2", t0.Add(-9*day), 0),
		ev("p3", t0.Add(-13*day), 0),
		ev("old", t0.Add(-20*day), 0),
	})

	recent, prior, err := db.InteractionCounts("abc", t0)
	if err != nil {
		t.Fatalf("InteractionCounts: %v", err)
	}
	if recent != 1 || prior != 3 {
		t.Errorf("counts = %d/%d, want 1/3", recent, prior)
	}
}

func TestApplyOutcome(t *testing.T) {
	db := clockDB(t, t0)
	db.AppendEvents("abc", "Sam", nil)

	scheduled := t0.Add(24 * time.Hour)
	c, err := db.ApplyOutcome("abc", Outcome{
		Score:           38.2,
		Recommendation:  "Check in",
		DraftMessage:    "Hey Sam",
		ActionType:      core.ActionDraftAndSchedule,
		Priority:        "high",
		ScheduledAt:     &scheduled,
		AnomalyDetected: true,
		AnomalyReason:   core.AnomalyScoreDrop,
	}, t0)
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	if c.PreviousScore != 50 || c.CurrentScore != 38.2 {
		t.Errorf("scores = %v -> %v, want 50 -> 38.2", c.PreviousScore, c.CurrentScore)
	}
	if c.Band != core.BandCritical || c.RiskLevel != core.RiskHigh {
		t.Errorf("band/risk = %s/%s, want critical/high", c.Band, c.RiskLevel)
	}
	if c.ScheduledAt == nil || !c.ScheduledAt.Equal(scheduled) {
		t.Errorf("ScheduledAt = %v, want %v", c.ScheduledAt, scheduled)
	}
	if c.Tuning.LambdaDecay != core.DefaultLambda {
		t.Errorf("lambda = %v, want untouched", c.Tuning.LambdaDecay)
	}

	lambda := 0.5
	c, err = db.ApplyOutcome("abc", Outcome{Score: 140, LambdaDecay: &lambda}, t0)
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	if c.CurrentScore != 100 {
		t.Errorf("CurrentScore = %v, want clamp to 100", c.CurrentScore)
	}
	if c.Tuning.LambdaDecay != core.MaxLambda {
		t.Errorf("lambda = %v, want clamp to 0.2", c.Tuning.LambdaDecay)
	}
	if c.AnomalyReason != core.AnomalyNone {
		t.Errorf("AnomalyReason = %q, want none", c.AnomalyReason)
	}

	if _, err := db.ApplyOutcome("missing", Outcome{Score: 10}, t0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyRealtimeDecayTenDays(t *testing.T) {
	db := clockDB(t, t0)
	db.AppendEvents("abc", "Sam", nil)
	db.ApplyOutcome("abc", Outcome{Score: 70}, t0)

	later := t0.Add(10 * 24 * time.Hour)
	n, err := db.ApplyRealtimeDecay(later)
	if err != nil {
		t.Fatalf("ApplyRealtimeDecay: %v", err)
	}
	if n != 1 {
		t.Errorf("changed = %d, want 1", n)
	}

	c, _ := db.GetContact("abc")
	if math.Abs(c.CurrentScore-70*math.Exp(-0.8)) > 1e-9 {
		t.Errorf("CurrentScore = %v, want ~31.45", c.CurrentScore)
	}
	if c.Band != core.BandCritical || c.RiskLevel != core.RiskHigh {
		t.Errorf("band/risk = %s/%s, want critical/high", c.Band, c.RiskLevel)
	}
	if !c.LastUpdatedAt.Equal(later) {
		t.Errorf("LastUpdatedAt = %v, want %v", c.LastUpdatedAt, later)
	}
}

func TestApplyRealtimeDecayNoiseFloor(t *testing.T) {
	db := clockDB(t, t0)
	db.AppendEvents("abc", "Sam", nil)
	db.ApplyOutcome("abc", Outcome{Score: 70}, t0)

	// 15 seconds of decay at lambda 0.08 moves the score by ~0.001.
	n, err := db.ApplyRealtimeDecay(t0.Add(15 * time.Second))
	if err != nil {
		t.Fatalf("ApplyRealtimeDecay: %v", err)
	}
	if n != 0 {
		t.Errorf("changed = %d, want 0 below noise floor", n)
	}
	c, _ := db.GetContact("abc")
	if c.CurrentScore != 70 || !c.LastUpdatedAt.Equal(t0) {
		t.Errorf("contact written below noise floor: %v at %v", c.CurrentScore, c.LastUpdatedAt)
	}

	// Sub-floor ticks accumulate against the old stamp.
	n, _ = db.ApplyRealtimeDecay(t0.Add(2 * time.Minute))
	if n != 1 {
		t.Errorf("changed = %d, want 1 once accumulated decay passes the floor", n)
	}

	// Time going backwards is ignored.
	if n, _ := db.ApplyRealtimeDecay(t0); n != 0 {
		t.Errorf("changed = %d, want 0 for a past timestamp", n)
	}
}

func TestApplyFeedbackPersists(t *testing.T) {
	db := clockDB(t, t0)
	db.AppendEvents("abc", "Sam", nil)

	tuning, err := db.ApplyFeedback("abc", true)
	if err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	if tuning.InteractionMultiplier != 1.05 || tuning.PositiveFeedback != 1 {
		t.Errorf("tuning = %+v", tuning)
	}

	c, _ := db.GetContact("abc")
	if c.Tuning != *tuning {
		t.Errorf("stored tuning = %+v, want %+v", c.Tuning, *tuning)
	}

	for i := 0; i < 50; i++ {
		if _, err := db.ApplyFeedback("abc", false); err != nil {
			t.Fatalf("ApplyFeedback negative %d: %v", i, err)
		}
	}
	c, _ = db.GetContact("abc")
	if c.Tuning.InteractionMultiplier != core.MinMultiplier || c.Tuning.LambdaDecay != core.MaxLambda {
		t.Errorf("tuning = %+v, want saturated at 0.5/0.2", c.Tuning)
	}

	if _, err := db.ApplyFeedback("missing", true); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListContactsSortedByScore(t *testing.T) {
	db := clockDB(t, t0)
	for hash, score := range map[string]float64{"a": 80, "b": 20, "c": 55} {
		db.AppendEvents(hash, hash, nil)
		db.ApplyOutcome(hash, Outcome{Score: score}, t0)
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	var got []string
	for _, c := range contacts {
		got = append(got, c.ContactHash)
	}
	if len(got) != 3 || got[0] != "b" || got[1] != "c" || got[2] != "a" {
		t.Errorf("order = %v, want [b c a]", got)
	}
}

func TestSetAutoNudge(t *testing.T) {
	db := clockDB(t, t0)
	db.AppendEvents("abc", "Sam", nil)

	c, err := db.SetAutoNudge("abc", true)
	if err != nil {
		t.Fatalf("SetAutoNudge: %v", err)
	}
	if !c.AutoNudgeEnabled {
		t.Error("AutoNudgeEnabled = false, want true")
	}
	if _, err := db.SetAutoNudge("missing", true); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := db.StampAutoAction("abc", t0); err != nil {
		t.Fatalf("StampAutoAction: %v", err)
	}
	c, _ = db.GetContact("abc")
	if c.LastAutoActionAt == nil || !c.LastAutoActionAt.Equal(t0) {
		t.Errorf("LastAutoActionAt = %v, want %v", c.LastAutoActionAt, t0)
	}
}
