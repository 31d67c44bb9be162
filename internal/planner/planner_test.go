package planner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/llm"
	"github.com/clustercoder/bubbleOne/internal/retrieval"
	"github.com/clustercoder/bubbleOne/internal/store"
)

var (
	asOf    = time.Date(2026, 2, 28, 18, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func event(id string, kind core.InteractionType, sentiment float64, intent string, ts time.Time) core.MetadataEvent {
	return core.MetadataEvent{
		EventID:         id,
		ContactHash:     "abc",
		Timestamp:       ts,
		InteractionType: kind,
		Sentiment:       sentiment,
		Intent:          intent,
		Summary:         "Summary for " + id + ".",
	}
}

func process(t *testing.T, p Planner, req Request) *Result {
	t.Helper()
	out := p.ProcessContact(context.Background(), req)
	if out.Kind != OutcomeOK {
		t.Fatalf("ProcessContact = %s (%s), want ok", out.Kind, out.Reason)
	}
	return out.Result
}

func TestLocalSameDayCall(t *testing.T) {
	res := process(t, NewLocal(nil, nil, discard), Request{
		ContactHash:   "abc",
		Alias:         "Sam",
		Events:        []core.MetadataEvent{event("e1", core.InteractionCall, 0.8, "plan_event", asOf)},
		PreviousScore: 50,
		PreviousAt:    asOf,
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	})

	if res.Score != 64.8 {
		t.Errorf("Score = %v, want 64.8", res.Score)
	}
	if res.Band != core.BandFading || res.RiskLevel != core.RiskMedium {
		t.Errorf("band/risk = %s/%s, want fading/medium", res.Band, res.RiskLevel)
	}
	if res.AnomalyDetected || res.AnomalyReason != core.AnomalyNone {
		t.Errorf("anomaly = %v/%s, want none", res.AnomalyDetected, res.AnomalyReason)
	}
	if res.ActionType != core.ActionDraft || res.Priority != "medium" {
		t.Errorf("plan = %s/%s, want draft/medium", res.ActionType, res.Priority)
	}
	if res.ScheduleAt == nil || !res.ScheduleAt.Equal(asOf.Add(8*time.Hour)) {
		t.Errorf("ScheduleAt = %v, want asOf+8h", res.ScheduleAt)
	}
	if res.DraftMessage != "Hey Sam, just checking in. Want to catch up this week?" {
		t.Errorf("DraftMessage = %q", res.DraftMessage)
	}
	if res.LambdaUsed != core.DefaultLambda {
		t.Errorf("LambdaUsed = %v, want %v", res.LambdaUsed, core.DefaultLambda)
	}
}

func TestLocalIgnoredMessageNegativeSentiment(t *testing.T) {
	res := process(t, NewLocal(nil, nil, discard), Request{
		ContactHash:   "abc",
		Alias:         "Sam",
		Events:        []core.MetadataEvent{event("e1", core.InteractionIgnoredMessage, -0.7, "check_in", asOf)},
		PreviousScore: 80,
		PreviousAt:    asOf,
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	})

	if res.Score != 70 {
		t.Errorf("Score = %v, want 70", res.Score)
	}
	if res.AnomalyReason != core.AnomalyNegativeSentiment || res.RiskLevel != core.RiskHigh {
		t.Errorf("anomaly/risk = %s/%s, want negative_sentiment/high", res.AnomalyReason, res.RiskLevel)
	}
	if res.ActionType != core.ActionDraftAndSchedule || res.Priority != "high" {
		t.Errorf("plan = %s/%s, want draft_and_schedule/high", res.ActionType, res.Priority)
	}
}

func TestLocalReadsSentimentFromRecent(t *testing.T) {
	stored := []core.MetadataEvent{
		event("e1", core.InteractionText, 0.3, "check_in", asOf.Add(-3*time.Hour)),
		event("e2", core.InteractionText, -0.8, "support", asOf.Add(-1*time.Hour)),
	}
	req := Request{
		ContactHash:   "abc",
		Alias:         "Sam",
		PreviousScore: 60,
		PreviousAt:    asOf,
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	}

	if res := process(t, NewLocal(nil, nil, discard), req); res.AnomalyDetected {
		t.Errorf("no events and no history: reason = %s, want none", res.AnomalyReason)
	}

	req.Recent = stored
	res := process(t, NewLocal(nil, nil, discard), req)
	if res.Score != 60 {
		t.Errorf("Score = %v, want 60 with nothing new to score", res.Score)
	}
	if res.AnomalyReason != core.AnomalyNegativeSentiment {
		t.Errorf("AnomalyReason = %s, want negative_sentiment from stored history", res.AnomalyReason)
	}
}

func TestLocalAppliesTailDecay(t *testing.T) {
	res := process(t, NewLocal(nil, nil, discard), Request{
		ContactHash:   "abc",
		PreviousScore: 70,
		PreviousAt:    asOf.Add(-10 * 24 * time.Hour),
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	})
	if math.Abs(res.Score-31.45) > 0.01 {
		t.Errorf("Score = %v, want ~31.45", res.Score)
	}
	if res.Band != core.BandCritical {
		t.Errorf("Band = %s, want critical", res.Band)
	}
}

func TestLocalFromBaseline(t *testing.T) {
	res := process(t, NewLocal(nil, nil, discard), Request{
		ContactHash:   "abc",
		Events:        []core.MetadataEvent{event("e1", core.InteractionCall, 0.8, "plan_event", asOf)},
		PreviousScore: 90,
		PreviousAt:    asOf.Add(-time.Hour),
		Tuning:        core.DefaultTuning(),
		FromBaseline:  true,
		AsOf:          asOf,
	})
	if res.Score != 64.8 {
		t.Errorf("Score = %v, want 64.8 replayed from baseline", res.Score)
	}
	if res.AnomalyReason != core.AnomalyScoreDrop {
		t.Errorf("AnomalyReason = %s, want score_drop against previous 90", res.AnomalyReason)
	}
}

func TestLocalRetrainLambda(t *testing.T) {
	events := []core.MetadataEvent{
		event("e1", core.InteractionText, 0.1, "check_in", asOf.Add(-5*24*time.Hour)),
		event("e2", core.InteractionText, 0.1, "check_in", asOf),
	}
	res := process(t, NewLocal(nil, nil, discard), Request{
		ContactHash:   "abc",
		Events:        events,
		PreviousScore: 50,
		Tuning:        core.DefaultTuning(),
		Recent7d:      2,
		Prior7d:       0,
		RetrainLambda: true,
		FromBaseline:  true,
		AsOf:          asOf,
	})
	if math.Abs(res.LambdaUsed-0.09) > 1e-9 {
		t.Errorf("LambdaUsed = %v, want 0.09 for a five day gap", res.LambdaUsed)
	}
}

func TestLocalWithModel(t *testing.T) {
	mock := &llm.MockClient{Responder: func(prompt string) (*llm.Response, error) {
		if strings.Contains(prompt, "schedule_in_hours") {
			return &llm.Response{Content: "Sure!\n```json\n{\"recommended_action\":\"Call Sam about the trip\",\"action_type\":\"reminder\",\"priority\":\"LOW\",\"schedule_in_hours\":5}\n```"}, nil
		}
		return &llm.Response{Content: `"Hi Sam, how did the trip go?"`}, nil
	}}

	res := process(t, NewLocal(nil, mock, discard), Request{
		ContactHash:   "abc",
		Alias:         "Sam",
		Events:        []core.MetadataEvent{event("e1", core.InteractionText, 0.3, "follow_up", asOf)},
		PreviousScore: 60,
		PreviousAt:    asOf,
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	})

	if res.Recommendation != "Call Sam about the trip" || res.ActionType != core.ActionReminder || res.Priority != "low" {
		t.Errorf("plan = %q/%s/%s", res.Recommendation, res.ActionType, res.Priority)
	}
	if !res.ScheduleAt.Equal(asOf.Add(5 * time.Hour)) {
		t.Errorf("ScheduleAt = %v, want asOf+5h", res.ScheduleAt)
	}
	if res.DraftMessage != "Hi Sam, how did the trip go?" {
		t.Errorf("DraftMessage = %q", res.DraftMessage)
	}
	if len(mock.Calls) != 2 {
		t.Errorf("model calls = %d, want 2", len(mock.Calls))
	}
	if strings.Contains(mock.Calls[0], "event_id") {
		t.Error("event ids leaked into the plan prompt")
	}
}

func TestLocalModelFailureFallsBack(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("rate limited")}
	res := process(t, NewLocal(nil, mock, discard), Request{
		ContactHash:   "abc",
		Alias:         "Sam",
		PreviousScore: 80,
		PreviousAt:    asOf,
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	})
	if res.ActionType != core.ActionDeprioritize || res.Priority != "low" {
		t.Errorf("plan = %s/%s, want deprioritize/low", res.ActionType, res.Priority)
	}
	if res.DraftMessage != FallbackDraft("Sam") {
		t.Errorf("DraftMessage = %q, want template", res.DraftMessage)
	}
}

func TestLocalRetrievesOnAnomaly(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	embedder := retrieval.HashEmbedder{}
	r := retrieval.New(embedder, retrieval.NewSQLiteIndex(db, embedder.Model()), 4, discard)
	past := []core.MetadataEvent{
		event("p1", core.InteractionCall, 0.5, "support", asOf.Add(-30*24*time.Hour)),
		event("p2", core.InteractionText, 0.2, "check_in", asOf.Add(-20*24*time.Hour)),
	}
	r.Remember(context.Background(), past)

	res := process(t, NewLocal(r, nil, discard), Request{
		ContactHash:   "abc",
		Events:        []core.MetadataEvent{event("e1", core.InteractionMissedCall, -0.8, "check_in", asOf)},
		PreviousScore: 55,
		PreviousAt:    asOf,
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	})
	if !res.AnomalyDetected {
		t.Fatal("expected anomaly")
	}
	if !strings.HasPrefix(res.Context, "- Summary for p") {
		t.Errorf("Context = %q, want retrieved summaries", res.Context)
	}

	calm := process(t, NewLocal(r, nil, discard), Request{
		ContactHash:   "abc",
		Events:        []core.MetadataEvent{event("e2", core.InteractionCall, 0.5, "check_in", asOf)},
		PreviousScore: 55,
		PreviousAt:    asOf,
		Tuning:        core.DefaultTuning(),
		AsOf:          asOf,
	})
	if calm.Context != "" {
		t.Errorf("Context = %q, want none without anomaly", calm.Context)
	}
}

func TestLocalCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := NewLocal(nil, nil, discard).ProcessContact(ctx, Request{ContactHash: "abc", PreviousScore: 50})
	if out.Kind != OutcomeUnavailable {
		t.Fatalf("Kind = %s, want unavailable", out.Kind)
	}
	if !errors.Is(out.Err(), core.ErrUpstreamUnavailable) {
		t.Errorf("Err = %v, want ErrUpstreamUnavailable", out.Err())
	}
}

func TestFallbackPlanThresholds(t *testing.T) {
	tests := []struct {
		score   float64
		anomaly bool
		want    core.ActionType
		hours   int
	}{
		{80, true, core.ActionDraftAndSchedule, 24},
		{44.99, false, core.ActionDraftAndSchedule, 24},
		{45, false, core.ActionDraft, 8},
		{74.99, false, core.ActionDraft, 8},
		{75, false, core.ActionDeprioritize, 72},
	}
	for _, tt := range tests {
		p := FallbackPlan("Sam", tt.score, tt.anomaly)
		if p.ActionType != tt.want || p.Hours != tt.hours {
			t.Errorf("FallbackPlan(%v, %v) = %s/%dh, want %s/%dh", tt.score, tt.anomaly, p.ActionType, p.Hours, tt.want, tt.hours)
		}
	}
}

func TestParsePlan(t *testing.T) {
	fallback := FallbackPlan("Sam", 60, false)

	p, ok := ParsePlan(`{"recommended_action":"x","action_type":"teleport","priority":"urgent","schedule_in_hours":-2}`, fallback)
	if !ok {
		t.Fatal("ok = false for valid JSON")
	}
	if p.Recommendation != "x" || p.ActionType != fallback.ActionType || p.Priority != fallback.Priority || p.Hours != fallback.Hours {
		t.Errorf("plan = %+v, want invalid fields replaced by fallback", p)
	}

	if _, ok := ParsePlan("I think you should call them.", fallback); ok {
		t.Error("ok = true for prose reply")
	}
	if _, ok := ParsePlan("{not json}", fallback); ok {
		t.Error("ok = true for malformed JSON")
	}
}

func TestRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ProcessContactPath {
			http.NotFound(w, r)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
			return
		}
		switch req.ContactHash {
		case "down":
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		case "slow":
			time.Sleep(300 * time.Millisecond)
		case "weird":
			json.NewEncoder(w).Encode(map[string]any{"action_type": "teleport"})
		default:
			json.NewEncoder(w).Encode(Result{ContactHash: req.ContactHash, Score: 42, ActionType: core.ActionDraft, Priority: "high"})
		}
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, 100*time.Millisecond)
	ctx := context.Background()

	out := remote.ProcessContact(ctx, Request{ContactHash: "abc"})
	if out.Kind != OutcomeOK || out.Result.Score != 42 || out.Result.ActionType != core.ActionDraft {
		t.Errorf("ok outcome = %+v", out)
	}

	for _, hash := range []string{"down", "slow", "weird"} {
		out := remote.ProcessContact(ctx, Request{ContactHash: hash})
		if out.Kind != OutcomeUnavailable {
			t.Errorf("%s: Kind = %s, want unavailable", hash, out.Kind)
		}
	}
}
