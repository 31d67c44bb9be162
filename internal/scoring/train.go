package scoring

import (
	"github.com/clustercoder/bubbleOne/internal/core"
)

// Cadence thresholds for TrainLambda, in days.
const (
	trainStep       = 0.01
	sparseMeanGap   = 3.0
	irregularSpread = 5.0
	denseMeanGap    = 1.0
)

// TrainLambda adapts the decay rate to the contact's interaction cadence.
// Sparse or irregular gaps, or a week quieter than the one before it, raise
// lambda by one step; a dense, steady cadence lowers it by one step. Fewer
// than two events leaves base unchanged.
func TrainLambda(base float64, events []core.MetadataEvent, recent7d, prior7d int) float64 {
	base = ClampLambda(base)
	sorted := sortedEvents(events)
	if len(sorted) < 2 {
		return Round(base, 4)
	}

	var sum, minGap, maxGap float64
	for i := 1; i < len(sorted); i++ {
		gap := daysBetween(sorted[i].Timestamp, sorted[i-1].Timestamp)
		sum += gap
		if i == 1 || gap < minGap {
			minGap = gap
		}
		if i == 1 || gap > maxGap {
			maxGap = gap
		}
	}
	meanGap := sum / float64(len(sorted)-1)
	spread := maxGap - minGap

	trained := base
	switch {
	case meanGap > sparseMeanGap || spread > irregularSpread || recent7d < prior7d:
		trained += trainStep
	case meanGap <= denseMeanGap && recent7d >= prior7d:
		trained -= trainStep
	}
	return Round(ClampLambda(trained), 4)
}
