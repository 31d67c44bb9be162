package scoring

import "github.com/clustercoder/bubbleOne/internal/core"

const (
	negativeSentimentAt = -0.35
	scoreDropAt         = 15.0
	frequencyDropRatio  = 0.5
	minPriorSample      = 3
)

// Anomaly is the classifier verdict.
type Anomaly struct {
	Detected bool               `json:"detected"`
	Reason   core.AnomalyReason `json:"reason"`
}

// Classify applies the anomaly rules in priority order and reports the first
// match. recentSentiments must be in chronological order; the last element
// is treated as the most recent reading.
func Classify(scoreBefore, scoreAfter float64, recentSentiments []float64, recent7d, prior7d int) Anomaly {
	frequencyDrop := prior7d >= minPriorSample && float64(recent7d) < float64(prior7d)*frequencyDropRatio

	negative := false
	for _, s := range recentSentiments {
		if s <= negativeSentimentAt {
			negative = true
			break
		}
	}

	switch {
	case frequencyDrop && negative:
		return Anomaly{Detected: true, Reason: core.AnomalyDropAndNegativeSentiment}
	case frequencyDrop:
		return Anomaly{Detected: true, Reason: core.AnomalyFrequencyDrop}
	case scoreBefore-scoreAfter >= scoreDropAt:
		return Anomaly{Detected: true, Reason: core.AnomalyScoreDrop}
	case len(recentSentiments) > 0 && recentSentiments[len(recentSentiments)-1] <= negativeSentimentAt:
		return Anomaly{Detected: true, Reason: core.AnomalyNegativeSentiment}
	}
	return Anomaly{Reason: core.AnomalyNone}
}
