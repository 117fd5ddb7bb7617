package lod

import "math"

const (
	minConfidence = 0.1
	maxConfidence = 0.95
)

// Confidence returns the display confidence of a point with the given density
// weight at the given level. It grows with the density weight, shrinks with
// the level and always stays within [0.1, 0.95].
func Confidence(densityWeight float64, level int) float64 {
	base := 0.2 + 0.7*(1-math.Exp(-3*densityWeight))
	c := base * (1 - 0.25*float64(level))

	if math.IsNaN(c) {
		return minConfidence
	}
	return math.Max(minConfidence, math.Min(maxConfidence, c))
}

// Confidences evaluates Confidence for every point of a level.
func Confidences(l Level) []float32 {
	confidences := make([]float32, len(l.Points.DensityWeights))
	for i, w := range l.Points.DensityWeights {
		confidences[i] = float32(Confidence(float64(w), l.ID))
	}
	return confidences
}
