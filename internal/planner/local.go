package planner

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/llm"
	"github.com/clustercoder/bubbleOne/internal/retrieval"
	"github.com/clustercoder/bubbleOne/internal/scoring"
	"github.com/tidwall/gjson"
)

const (
	sentimentWindow = 10
	promptWindow    = 5
	maxDraftRunes   = 280
)

// Local plans in process: score, optionally retrain lambda, classify,
// retrieve context on anomaly, then ask the model for a plan and a draft.
// retriever and client may be nil; the rule-based plan and the draft
// template cover for them.
type Local struct {
	weights   scoring.Weights
	retriever *retrieval.Retriever
	llm       llm.Client
	log       *slog.Logger
}

// NewLocal creates an in-process planner.
func NewLocal(retriever *retrieval.Retriever, client llm.Client, log *slog.Logger) *Local {
	return &Local{
		weights:   scoring.DefaultWeights(),
		retriever: retriever,
		llm:       client,
		log:       log,
	}
}

// ProcessContact implements Planner.
func (l *Local) ProcessContact(ctx context.Context, req Request) Outcome {
	if err := ctx.Err(); err != nil {
		return Unavailable(err.Error())
	}
	if err := req.Validate(); err != nil {
		return Unavailable(err.Error())
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	events := chronological(req.Events)

	tuning := scoring.ClampTuning(req.Tuning)
	if req.RetrainLambda {
		tuning.LambdaDecay = scoring.TrainLambda(tuning.LambdaDecay, events, req.Recent7d, req.Prior7d)
	}

	base, anchor := req.PreviousScore, req.PreviousAt
	if req.FromBaseline && len(events) > 0 {
		base = core.DefaultScore
		anchor = events[0].Timestamp
	}
	scored := scoring.DecayTo(l.weights.Score(base, anchor, events, tuning, asOf), asOf, tuning.LambdaDecay)
	score := scoring.Round(scored.Score, 2)

	recent := tail(chronological(req.Recent), sentimentWindow)
	if len(recent) == 0 {
		recent = tail(events, sentimentWindow)
	}
	sentiments := make([]float64, len(recent))
	for i, ev := range recent {
		sentiments[i] = ev.Sentiment
	}
	anomaly := scoring.Classify(req.PreviousScore, score, sentiments, req.Recent7d, req.Prior7d)

	res := &Result{
		ContactHash:     req.ContactHash,
		Score:           score,
		Band:            scoring.BandFor(score),
		RiskLevel:       scoring.RiskFor(score, anomaly.Detected),
		AnomalyDetected: anomaly.Detected,
		AnomalyReason:   anomaly.Reason,
		LambdaUsed:      tuning.LambdaDecay,
	}

	if anomaly.Detected && l.retriever != nil {
		summaries := make([]string, len(recent))
		for i, ev := range recent {
			summaries[i] = ev.Summary
		}
		text, _, err := l.retriever.Context(ctx, req.ContactHash, summaries)
		if err != nil {
			l.log.Warn("retrieval failed", "contact_hash", req.ContactHash, "err", err)
		}
		res.Context = text
	}

	state := llm.PlanState{
		ContactHash:     req.ContactHash,
		Alias:           req.Alias,
		CurrentScore:    score,
		PreviousScore:   req.PreviousScore,
		AnomalyDetected: anomaly.Detected,
		AnomalyReason:   string(anomaly.Reason),
		RAGContext:      res.Context,
		RecentMetadata:  metadataView(tail(recent, promptWindow)),
	}
	p := l.plan(ctx, state)
	res.Recommendation = p.Recommendation
	res.ActionType = p.ActionType
	res.Priority = p.Priority
	at := asOf.Add(time.Duration(p.Hours) * time.Hour)
	res.ScheduleAt = &at
	res.DraftMessage = l.draft(ctx, req.Alias, p.Recommendation, res.Context)

	if err := ctx.Err(); err != nil {
		return Unavailable(err.Error())
	}
	return OK(res)
}

// Plan is a recommended next action.
type Plan struct {
	Recommendation string          `json:"recommended_action"`
	ActionType     core.ActionType `json:"action_type"`
	Priority       string          `json:"priority"`
	Hours          int             `json:"schedule_in_hours"`
}

// FallbackPlan is the rule-based plan used when no model answer is usable.
func FallbackPlan(alias string, score float64, anomaly bool) Plan {
	if alias == "" {
		alias = "friend"
	}
	switch {
	case anomaly || score < 45:
		return Plan{
			Recommendation: "Draft a gentle check-in text to " + alias + " and schedule a call reminder tomorrow.",
			ActionType:     core.ActionDraftAndSchedule,
			Priority:       "high",
			Hours:          24,
		}
	case score < 75:
		return Plan{
			Recommendation: "Send " + alias + " a short update and ask one meaningful question this evening.",
			ActionType:     core.ActionDraft,
			Priority:       "medium",
			Hours:          8,
		}
	default:
		return Plan{
			Recommendation: "Maintain momentum with a light touchpoint for " + alias + " this week.",
			ActionType:     core.ActionDeprioritize,
			Priority:       "low",
			Hours:          72,
		}
	}
}

func (l *Local) plan(ctx context.Context, state llm.PlanState) Plan {
	fallback := FallbackPlan(state.Alias, state.CurrentScore, state.AnomalyDetected)
	if l.llm == nil {
		return fallback
	}
	resp, err := llm.CompleteJSON(ctx, l.llm, llm.RecommendPrompt(state))
	if err != nil {
		l.log.Warn("plan completion failed, using rule plan", "contact_hash", state.ContactHash, "err", err)
		return fallback
	}
	p, ok := ParsePlan(resp.Content, fallback)
	if !ok {
		l.log.Warn("unparseable plan, using rule plan", "contact_hash", state.ContactHash)
	}
	return p
}

// ParsePlan extracts a plan from a model reply. The reply may wrap the JSON
// object in prose or code fences. Missing or invalid fields take the
// fallback's values; ok is false when no JSON object could be found.
func ParsePlan(reply string, fallback Plan) (Plan, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return fallback, false
	}
	body := reply[start : end+1]
	if !gjson.Valid(body) {
		return fallback, false
	}

	p := fallback
	fields := gjson.GetMany(body, "recommended_action", "action_type", "priority", "schedule_in_hours")
	if s := strings.TrimSpace(fields[0].String()); s != "" {
		p.Recommendation = s
	}
	if t := core.ActionType(strings.ToLower(strings.TrimSpace(fields[1].String()))); t.Valid() {
		p.ActionType = t
	}
	switch pr := strings.ToLower(strings.TrimSpace(fields[2].String())); pr {
	case "low", "medium", "high":
		p.Priority = pr
	}
	if h := fields[3].Int(); h > 0 && h <= 24*30 {
		p.Hours = int(h)
	}
	return p, true
}

func (l *Local) draft(ctx context.Context, alias, recommendation, background string) string {
	fallback := FallbackDraft(alias)
	if l.llm == nil {
		return fallback
	}
	if background == "" {
		background = retrieval.NoHistory
	}
	resp, err := l.llm.Complete(ctx, llm.DraftPrompt(alias, recommendation, background))
	if err != nil {
		l.log.Warn("draft completion failed, using template", "err", err)
		return fallback
	}
	text := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if text == "" {
		return fallback
	}
	return truncate(text, maxDraftRunes)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func chronological(events []core.MetadataEvent) []core.MetadataEvent {
	out := make([]core.MetadataEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func tail(events []core.MetadataEvent, n int) []core.MetadataEvent {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

// metadataView is what the model sees of each event: no ids, no free-form
// metadata.
func metadataView(events []core.MetadataEvent) []map[string]any {
	out := make([]map[string]any, len(events))
	for i, ev := range events {
		out[i] = map[string]any{
			"ts":               ev.Timestamp.Format(time.RFC3339),
			"interaction_type": ev.InteractionType,
			"sentiment":        ev.Sentiment,
			"intent":           ev.Intent,
			"summary":          ev.Summary,
		}
	}
	return out
}
