package face

import "math"

// Candidate is one enrolled descriptor in the match pool.
type Candidate struct {
	StudentID string
	Embedding []float64
}

// Match is the outcome of resolving a probe against the candidate pool. On
// rejection the best distance found is still reported for diagnostics.
type Match struct {
	StudentID  string  `json:"student_id"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// Matcher resolves probe embeddings by exhaustive scan. Callers must not
// depend on scan order beyond the first-minimum-wins tie break; an indexed
// implementation could replace this behind the same contract.
type Matcher struct {
	threshold float64
}

// NewMatcher builds a matcher with the given acceptance threshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Resolve scans every candidate and returns the nearest one. The boolean
// reports acceptance: false when no candidate carries an embedding or the
// minimum distance exceeds the threshold. Ties keep the first minimum seen.
func (m *Matcher) Resolve(probe []float64, candidates []Candidate) (Match, bool) {
	best := Match{Distance: math.Inf(1)}

	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		d := Distance(probe, c.Embedding)
		if d < best.Distance {
			best = Match{StudentID: c.StudentID, Distance: d, Confidence: Confidence(d)}
		}
	}

	if best.StudentID == "" || best.Distance > m.threshold {
		return best, false
	}
	return best, true
}
