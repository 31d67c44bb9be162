// Package core holds the domain vocabulary shared by the scoring, storage and
// planning packages.
package core

import "time"

// InteractionType classifies a single interaction event.
type InteractionType string

const (
	InteractionText           InteractionType = "text"
	InteractionCall           InteractionType = "call"
	InteractionIgnoredMessage InteractionType = "ignored_message"
	InteractionAutoNudge      InteractionType = "auto_nudge"
	InteractionMissedCall     InteractionType = "missed_call"
)

// Valid reports whether t is one of the known interaction types.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionText, InteractionCall, InteractionIgnoredMessage, InteractionAutoNudge, InteractionMissedCall:
		return true
	}
	return false
}

// Band is the coarse health bucket derived from a score.
type Band string

const (
	BandGood     Band = "good"
	BandFading   Band = "fading"
	BandCritical Band = "critical"
)

// RiskLevel is derived from the score and the anomaly flag.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AnomalyReason names the rule that flagged a contact.
type AnomalyReason string

const (
	AnomalyNone                     AnomalyReason = "none"
	AnomalyDropAndNegativeSentiment AnomalyReason = "drop_and_negative_sentiment"
	AnomalyFrequencyDrop            AnomalyReason = "frequency_drop"
	AnomalyScoreDrop                AnomalyReason = "score_drop"
	AnomalyNegativeSentiment        AnomalyReason = "negative_sentiment"
)

// IsFrequencyDrop reports whether the reason was triggered by a fall in
// interaction frequency, alone or combined with negative sentiment.
func (r AnomalyReason) IsFrequencyDrop() bool {
	return r == AnomalyFrequencyDrop || r == AnomalyDropAndNegativeSentiment
}

// ActionType is the kind of recommended or user-initiated work.
type ActionType string

const (
	ActionDraft            ActionType = "draft"
	ActionDraftAndSchedule ActionType = "draft_and_schedule"
	ActionReminder         ActionType = "reminder"
	ActionDeprioritize     ActionType = "deprioritize"
)

// IsDraft reports whether the action denotes a drafted communication.
// Only these produce tuning feedback.
func (t ActionType) IsDraft() bool {
	return t == ActionDraft || t == ActionDraftAndSchedule
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionDraft, ActionDraftAndSchedule, ActionReminder, ActionDeprioritize:
		return true
	}
	return false
}

// NudgeActionTypes are the action types that count toward the per-contact
// auto-action dedup check.
var NudgeActionTypes = []ActionType{ActionDraft, ActionDraftAndSchedule, ActionReminder}

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionIgnored   ActionStatus = "ignored"
)

type ActionOrigin string

const (
	OriginUser ActionOrigin = "user"
	OriginAuto ActionOrigin = "auto"
)

// MetadataEvent is one normalized interaction record. It never carries raw
// message text.
type MetadataEvent struct {
	EventID         string          `json:"event_id" yaml:"event_id"`
	ContactHash     string          `json:"contact_hash" yaml:"contact_hash"`
	Timestamp       time.Time       `json:"ts" yaml:"ts"`
	InteractionType InteractionType `json:"interaction_type" yaml:"interaction_type"`
	Sentiment       float64         `json:"sentiment" yaml:"sentiment"`
	Intent          string          `json:"intent" yaml:"intent"`
	Summary         string          `json:"summary" yaml:"summary"`
	Metadata        map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Score and tuning bounds.
const (
	DefaultScore = 50.0
	MinScore     = 0.0
	MaxScore     = 100.0

	DefaultMultiplier = 1.0
	MinMultiplier     = 0.5
	MaxMultiplier     = 2.0

	DefaultLambda = 0.08
	MinLambda     = 0.03
	MaxLambda     = 0.2
)

// TuningState holds the per-contact parameters adapted by feedback.
type TuningState struct {
	InteractionMultiplier float64 `json:"interaction_multiplier"`
	LambdaDecay           float64 `json:"lambda_decay"`
	PositiveFeedback      int     `json:"positive_feedback"`
	NegativeFeedback      int     `json:"negative_feedback"`
}

// DefaultTuning returns the tuning state of a newly created contact.
func DefaultTuning() TuningState {
	return TuningState{
		InteractionMultiplier: DefaultMultiplier,
		LambdaDecay:           DefaultLambda,
	}
}
