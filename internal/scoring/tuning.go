package scoring

import (
	"math"

	"github.com/clustercoder/bubbleOne/internal/core"
)

const (
	multiplierStep = 0.05
	lambdaStep     = 0.005
)

// ApplyFeedback nudges tuning after a user reaction to a drafted action.
// Positive feedback strengthens interactions and slows decay; negative
// feedback does the opposite. Both stay inside the documented bounds.
func ApplyFeedback(t core.TuningState, positive bool) core.TuningState {
	t = ClampTuning(t)
	if positive {
		t.InteractionMultiplier = clampMultiplier(Round(t.InteractionMultiplier+multiplierStep, 4))
		t.LambdaDecay = ClampLambda(Round(t.LambdaDecay-lambdaStep, 4))
		t.PositiveFeedback++
	} else {
		t.InteractionMultiplier = clampMultiplier(Round(t.InteractionMultiplier-multiplierStep, 4))
		t.LambdaDecay = ClampLambda(Round(t.LambdaDecay+lambdaStep, 4))
		t.NegativeFeedback++
	}
	return t
}

// ClampTuning forces both parameters into bounds, substituting defaults for
// unset values.
func ClampTuning(t core.TuningState) core.TuningState {
	if t.InteractionMultiplier == 0 || math.IsNaN(t.InteractionMultiplier) {
		t.InteractionMultiplier = core.DefaultMultiplier
	}
	if t.LambdaDecay == 0 || math.IsNaN(t.LambdaDecay) {
		t.LambdaDecay = core.DefaultLambda
	}
	t.InteractionMultiplier = clampMultiplier(t.InteractionMultiplier)
	t.LambdaDecay = ClampLambda(t.LambdaDecay)
	if t.PositiveFeedback < 0 {
		t.PositiveFeedback = 0
	}
	if t.NegativeFeedback < 0 {
		t.NegativeFeedback = 0
	}
	return t
}

// ClampLambda bounds a decay rate to [0.03, 0.2].
func ClampLambda(v float64) float64 {
	return math.Max(core.MinLambda, math.Min(core.MaxLambda, v))
}

func clampMultiplier(v float64) float64 {
	return math.Max(core.MinMultiplier, math.Min(core.MaxMultiplier, v))
}
