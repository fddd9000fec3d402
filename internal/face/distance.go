// Package face implements the embedding distance evaluator and the threshold
// matcher used to resolve a probe descriptor against enrolled students.
package face

import "math"

// EmbeddingDim is the descriptor length produced by the face model.
const EmbeddingDim = 128

// DefaultThreshold is the maximum Euclidean distance accepted as a match.
// 0.45–0.50 is the usual range for 128-dim face descriptors.
const DefaultThreshold = 0.48

// Distance returns the Euclidean distance between two descriptors, compared
// element-wise up to the shorter length. NaN and infinite elements count as
// zero. A nil or empty operand yields +Inf so it can never win a match.
func Distance(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var sum float64
	for i := 0; i < n; i++ {
		diff := finite(a[i]) - finite(b[i])
		sum += diff * diff
	}

	return math.Sqrt(sum)
}

// Confidence maps a distance onto a 0–1 display value. It is a heuristic for
// UI purposes only and is never used in accept/reject decisions.
func Confidence(distance float64) float64 {
	if math.IsInf(distance, 1) || math.IsNaN(distance) {
		return 0
	}
	return math.Max(0, 1-distance/2)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
