package discovery

import (
	"math"

	"duebook/internal/model"
)

// Confidence blends three signals: how much history backs the candidate,
// how regular its timing is, and how stable its amount is.
const (
	sampleWeight     = 0.3
	regularityWeight = 0.4
	stabilityWeight  = 0.3

	// A year of occurrences counts as a full sample.
	fullSampleSize = 12.0
)

var stabilityScores = map[model.AmountBehavior]float64{
	model.AmountFixed:          1.0,
	model.AmountVariable:       0.8,
	model.AmountHighlyVariable: 0.5,
}

// scoreConfidence computes the discovery confidence for a validated
// candidate, rounded to two decimals.
func scoreConfidence(candidate *model.PatternCandidate) float64 {
	sample := float64(candidate.Cluster.Size()) / fullSampleSize
	if sample > 1 {
		sample = 1
	}

	regularity := 0.0
	if candidate.AvgGapDays > 0 {
		regularity = 1 - candidate.StddevGapDays/candidate.AvgGapDays
		if regularity < 0 {
			regularity = 0
		}
	}

	score := sampleWeight*sample +
		regularityWeight*regularity +
		stabilityWeight*stabilityScores[candidate.AmountBehavior]

	return math.Round(score*100) / 100
}
