// Package scoring implements the relationship-health score: exponential
// decay with per-event impact, band and risk derivation, decay-rate training,
// anomaly classification and feedback tuning. Everything here is pure.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
)

const (
	goodThreshold     = 75.0
	criticalThreshold = 45.0
	mediumRiskBelow   = 70.0

	day = 24 * time.Hour
)

// Weights are the hyperparameters of the impact term.
type Weights struct {
	Interaction  map[core.InteractionType]float64
	Intent       map[string]float64
	Sentiment    float64
	RecencyGamma float64
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{
		Interaction: map[core.InteractionType]float64{
			core.InteractionCall:           8.0,
			core.InteractionText:           4.0,
			core.InteractionIgnoredMessage: -7.0,
			core.InteractionAutoNudge:      2.0,
			core.InteractionMissedCall:     -3.0,
		},
		Intent: map[string]float64{
			"support":      2.5,
			"plan_event":   2.0,
			"follow_up":    1.5,
			"check_in":     1.2,
			"request_help": 1.0,
			"small_talk":   0.5,
		},
		Sentiment:    6.0,
		RecencyGamma: 0.05,
	}
}

// Result is the output of a scoring run. AnchoredAt is the moment the score
// is valid for: the last processed event, or the previous anchor when no
// event is later than it.
type Result struct {
	Score      float64   `json:"score"`
	Band       core.Band `json:"band"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Score runs the default weights. See Weights.Score.
func Score(previous float64, previousAt time.Time, events []core.MetadataEvent, tuning core.TuningState, asOf time.Time) Result {
	return DefaultWeights().Score(previous, previousAt, events, tuning, asOf)
}

// Score folds events into previous in chronological order. Each event first
// decays the running score by the days since the prior event (or since
// previousAt for the first one), then adds its impact. An event older than
// the anchor leaves the running score alone and contributes its impact
// decayed from its own timestamp up to the anchor, as if it had been folded
// in before the anchor was reached. Impact recency is measured against asOf,
// so splitting a batch into calls at the same asOf yields the same score.
func (w Weights) Score(previous float64, previousAt time.Time, events []core.MetadataEvent, tuning core.TuningState, asOf time.Time) Result {
	tuning = ClampTuning(tuning)
	score := Clamp(previous)
	anchor := previousAt

	for _, ev := range sortedEvents(events) {
		impact := w.Impact(ev, asOf, tuning.InteractionMultiplier)
		if !anchor.IsZero() && ev.Timestamp.Before(anchor) {
			late := daysBetween(anchor, ev.Timestamp)
			score = Clamp(score + impact*math.Exp(-tuning.LambdaDecay*late))
			continue
		}
		deltaDays := 0.0
		if !anchor.IsZero() {
			deltaDays = daysBetween(ev.Timestamp, anchor)
		}
		score = Clamp(Decay(score, tuning.LambdaDecay, deltaDays) + impact)
		if ev.Timestamp.After(anchor) {
			anchor = ev.Timestamp
		}
	}

	return Result{Score: score, Band: BandFor(score), AnchoredAt: anchor}
}

// Impact is the recency-weighted contribution of a single event.
func (w Weights) Impact(ev core.MetadataEvent, asOf time.Time, multiplier float64) float64 {
	base := w.Interaction[ev.InteractionType]
	intent := w.Intent[ev.Intent]
	daysOld := daysBetween(asOf, ev.Timestamp)
	recency := math.Exp(-w.RecencyGamma * daysOld)
	return (base + intent + w.Sentiment*ev.Sentiment) * recency * multiplier
}

// Decay applies the decay-only term for the given number of days.
func Decay(score, lambda, days float64) float64 {
	if days <= 0 {
		return Clamp(score)
	}
	return Clamp(score * math.Exp(-lambda*days))
}

// DecayTo carries r forward to asOf with no new impact.
func DecayTo(r Result, asOf time.Time, lambda float64) Result {
	if r.AnchoredAt.IsZero() || !asOf.After(r.AnchoredAt) {
		return r
	}
	score := Decay(r.Score, ClampLambda(lambda), daysBetween(asOf, r.AnchoredAt))
	return Result{Score: score, Band: BandFor(score), AnchoredAt: asOf}
}

// BandFor maps a score to its band.
func BandFor(score float64) core.Band {
	switch {
	case score >= goodThreshold:
		return core.BandGood
	case score >= criticalThreshold:
		return core.BandFading
	default:
		return core.BandCritical
	}
}

// RiskFor derives the risk level from the score and anomaly flag.
func RiskFor(score float64, anomaly bool) core.RiskLevel {
	switch {
	case anomaly || score < criticalThreshold:
		return core.RiskHigh
	case score < mediumRiskBelow:
		return core.RiskMedium
	default:
		return core.RiskLow
	}
}

// Clamp bounds a score to [0, 100]. NaN collapses to the minimum.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return core.MinScore
	}
	return math.Max(core.MinScore, math.Min(core.MaxScore, v))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// DaysSince returns the non-negative number of days from earlier to later.
func DaysSince(later, earlier time.Time) float64 {
	return daysBetween(later, earlier)
}

func daysBetween(later, earlier time.Time) float64 {
	d := later.Sub(earlier)
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(day)
}

func sortedEvents(events []core.MetadataEvent) []core.MetadataEvent {
	out := make([]core.MetadataEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
