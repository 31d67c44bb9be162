// Package planner turns a contact's event window into a scored, classified
// recommendation. Local runs in process; Remote calls another bubbleOne
// server over HTTP.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
)

// DraftTemplate is the message drafted when no model is available.
const DraftTemplate = "Hey %s, just checking in. Want to catch up this week?"

// FallbackDraft renders DraftTemplate for alias.
func FallbackDraft(alias string) string {
	if alias == "" {
		alias = "there"
	}
	return fmt.Sprintf(DraftTemplate, alias)
}

// Request is everything needed to process one contact.
type Request struct {
	ContactHash   string               `json:"contact_hash"`
	Alias         string               `json:"alias"`
	Events        []core.MetadataEvent `json:"events"`
	PreviousScore float64              `json:"previous_score"`
	PreviousAt    time.Time            `json:"previous_at"`
	Tuning        core.TuningState     `json:"tuning"`
	Recent7d      int                  `json:"recent_event_count_7d"`
	Prior7d       int                  `json:"prior_event_count_7d"`
	RetrainLambda bool                 `json:"temporal_training_enabled"`

	// Recent is the contact's stored event tail, newest last. It feeds the
	// sentiment reading and the retrieval query; Events alone is scored.
	// Empty falls back to the tail of Events.
	Recent []core.MetadataEvent `json:"recent_events,omitempty"`

	// FromBaseline replays Events from the default score, anchored at the
	// first event, instead of folding them into PreviousScore.
	// PreviousScore is still the reference for score-drop detection.
	FromBaseline bool `json:"from_baseline"`

	// AsOf is the processing moment. Zero means now.
	AsOf time.Time `json:"as_of"`
}

// Validate reports malformed requests.
func (r Request) Validate() error {
	if r.ContactHash == "" {
		return fmt.Errorf("contact_hash is required: %w", core.ErrInvalidInput)
	}
	if r.PreviousScore < core.MinScore || r.PreviousScore > core.MaxScore {
		return fmt.Errorf("previous_score %v outside [0,100]: %w", r.PreviousScore, core.ErrInvalidInput)
	}
	for i, ev := range r.Events {
		if ev.EventID == "" || ev.Timestamp.IsZero() {
			return fmt.Errorf("event %d lacks id or timestamp: %w", i, core.ErrInvalidInput)
		}
	}
	return nil
}

// Result is the planning output written onto the contact.
type Result struct {
	ContactHash     string             `json:"contact_hash"`
	Score           float64            `json:"score"`
	Band            core.Band          `json:"band"`
	RiskLevel       core.RiskLevel     `json:"risk_level"`
	Recommendation  string             `json:"recommended_action"`
	DraftMessage    string             `json:"draft_message"`
	ActionType      core.ActionType    `json:"action_type"`
	Priority        string             `json:"priority"`
	ScheduleAt      *time.Time         `json:"schedule_at"`
	AnomalyDetected bool               `json:"anomaly_detected"`
	AnomalyReason   core.AnomalyReason `json:"anomaly_reason"`
	LambdaUsed      float64            `json:"lambda_decay_used"`
	Context         string             `json:"rag_context,omitempty"`
}

// OutcomeKind distinguishes a usable result from an unavailable planner.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeUnavailable
)

func (k OutcomeKind) String() string {
	if k == OutcomeOK {
		return "ok"
	}
	return "unavailable"
}

// Outcome is the result of ProcessContact. Result is set only for OutcomeOK.
type Outcome struct {
	Kind   OutcomeKind
	Result *Result
	Reason string
}

// OK wraps a result.
func OK(r *Result) Outcome { return Outcome{Kind: OutcomeOK, Result: r} }

// Unavailable reports a planner failure.
func Unavailable(reason string) Outcome {
	return Outcome{Kind: OutcomeUnavailable, Reason: reason}
}

// Err converts an unavailable outcome into an error wrapping
// core.ErrUpstreamUnavailable. It returns nil for OutcomeOK.
func (o Outcome) Err() error {
	if o.Kind == OutcomeOK {
		return nil
	}
	return fmt.Errorf("planner: %s: %w", o.Reason, core.ErrUpstreamUnavailable)
}

// Planner processes one contact synchronously. Implementations honour ctx
// and report failures as OutcomeUnavailable instead of an error.
type Planner interface {
	ProcessContact(ctx context.Context, req Request) Outcome
}
