package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundNormTwentyMembers(t *testing.T) {
	raws := make([]float64, 20)
	for i := range raws {
		raws[i] = float64(i + 1)
	}

	norm := newRoundNorm(raws)
	assert.Equal(t, 18.0, norm.worst)
	assert.Equal(t, 1.0, norm.best)

	assert.Equal(t, 1.0, norm.final(1))
	assert.Equal(t, 0.0, norm.final(18))
	// Above the cap: clamped to worst.
	assert.Equal(t, 0.0, norm.final(19))
	assert.Equal(t, 0.0, norm.final(20))
	assert.InDelta(t, 0.5, norm.final(9.5), 1e-9)
}

func TestRoundNormDegenerate(t *testing.T) {
	norm := newRoundNorm([]float64{2.5, 2.5, 2.5})
	assert.Equal(t, 1.0, norm.final(2.5))
}

func TestRoundNormSingleMember(t *testing.T) {
	// One success: cap index 0, worst == best, everyone scores 1.0.
	norm := newRoundNorm([]float64{7.3})
	assert.Equal(t, 1.0, norm.final(7.3))
}

func TestPercentileCapIndex(t *testing.T) {
	assert.Equal(t, 0, percentileCapIndex(1))
	assert.Equal(t, 1, percentileCapIndex(2))
	assert.Equal(t, 18, percentileCapIndex(20))
	assert.Equal(t, 94, percentileCapIndex(100))
}

func TestFinalStaysInUnitInterval(t *testing.T) {
	raws := []float64{0.5, 1.0, 3.0, 10.0, 100.0}
	norm := newRoundNorm(raws)
	for _, raw := range raws {
		f := norm.final(raw)
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
}
