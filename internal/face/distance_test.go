package face

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceIdentity(t *testing.T) {
	v := []float64{0.1, -0.2, 0.3, 0.4}
	assert.Equal(t, 0.0, Distance(v, v))
}

func TestDistanceSymmetricNonNegative(t *testing.T) {
	a := []float64{0.5, 0.1, -0.3}
	b := []float64{-0.2, 0.4, 0.9}

	dab := Distance(a, b)
	dba := Distance(b, a)
	assert.Equal(t, dab, dba)
	assert.GreaterOrEqual(t, dab, 0.0)
}

func TestDistanceKnownValue(t *testing.T) {
	a := []float64{0, 0}
	b := []float64{3, 4}
	assert.InDelta(t, 5.0, Distance(a, b), 1e-12)
}

func TestDistanceComparesSharedPrefixOnly(t *testing.T) {
	a := []float64{1, 2, 3, 100, 200}
	b := []float64{1, 2, 3}
	assert.Equal(t, 0.0, Distance(a, b))
}

func TestDistanceEmptyOperandIsInfinite(t *testing.T) {
	assert.True(t, math.IsInf(Distance(nil, []float64{1}), 1))
	assert.True(t, math.IsInf(Distance([]float64{1}, nil), 1))
	assert.True(t, math.IsInf(Distance(nil, nil), 1))
}

func TestDistanceTreatsNonFiniteAsZero(t *testing.T) {
	a := []float64{math.NaN(), math.Inf(1)}
	b := []float64{0, 0}
	require.Equal(t, 0.0, Distance(a, b))
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 1.0, Confidence(0))
	assert.InDelta(t, 0.75, Confidence(0.5), 1e-12)
	assert.Equal(t, 0.0, Confidence(2.5))
	assert.Equal(t, 0.0, Confidence(math.Inf(1)))
}
