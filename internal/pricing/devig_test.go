package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeVigLogitSumsToOne(t *testing.T) {
	t.Parallel()

	cases := []struct{ p1, p2 float64 }{
		{0.555, 0.500},
		{0.52, 0.52},
		{0.90, 0.15},
		{0.65, 0.40},
		{0.02, 1.01},
	}
	for _, tc := range cases {
		q1, q2 := DeVigLogit(tc.p1, tc.p2)
		assert.InDelta(t, 1.0, q1+q2, 1e-9, "p1=%v p2=%v", tc.p1, tc.p2)
		assert.Greater(t, q1, 0.0)
		assert.Greater(t, q2, 0.0)
	}
}

func TestDeVigLogitKnownBook(t *testing.T) {
	t.Parallel()

	// Book total 1.055: a ~5.5% vig split across both sides.
	q1, q2 := DeVigLogit(0.555, 0.500)
	require.InDelta(t, 1.0, q1+q2, 1e-9)
	assert.InDelta(t, 0.528, q1, 0.002)
	assert.Greater(t, q1, q2, "favorite stays the favorite after de-vig")
}

func TestDeVigLogitPreservesOrdering(t *testing.T) {
	t.Parallel()

	q1, q2 := DeVigLogit(0.80, 0.30)
	assert.Greater(t, q1, q2)
	// De-vigging shrinks the raw favorite probability.
	assert.Less(t, q1, 0.80)
	assert.Greater(t, q2, 0.30-0.11)
}

func TestDeVigProportional(t *testing.T) {
	t.Parallel()

	q1, q2 := DeVigProportional(0.60, 0.60)
	assert.InDelta(t, 0.5, q1, 1e-12)
	assert.InDelta(t, 0.5, q2, 1e-12)

	q1, q2 = DeVigProportional(0.555, 0.500)
	assert.InDelta(t, 1.0, q1+q2, 1e-12)
	assert.InDelta(t, 0.555/1.055, q1, 1e-12)
}

func TestDeVigShinSumsToOne(t *testing.T) {
	t.Parallel()

	cases := []struct{ p1, p2 float64 }{
		{0.555, 0.500},
		{0.70, 0.38},
		{0.52, 0.53},
	}
	for _, tc := range cases {
		q1, q2 := DeVigShin(tc.p1, tc.p2)
		assert.InDelta(t, 1.0, q1+q2, 1e-9, "p1=%v p2=%v", tc.p1, tc.p2)
	}
}

func TestDeVigShinShadesLongshotHarder(t *testing.T) {
	t.Parallel()

	// Shin attributes margin to insiders, so the longshot's raw price is
	// shaded down more than proportional scaling would.
	sq1, _ := DeVigShin(0.80, 0.28)
	pq1, _ := DeVigProportional(0.80, 0.28)
	assert.GreaterOrEqual(t, sq1, pq1-1e-9)
}

func TestDeVigDegenerateInputsFallBack(t *testing.T) {
	t.Parallel()

	// A symmetric book lands on a coin flip regardless of its total.
	q1, q2 := DeVigLogit(0.45, 0.45)
	assert.InDelta(t, 0.5, q1, 1e-9)
	assert.InDelta(t, 0.5, q2, 1e-9)

	// Extreme inputs are clamped rather than producing NaNs.
	q1, q2 = DeVigLogit(0, 1.2)
	assert.False(t, q1 != q1 || q2 != q2, "must not produce NaN")
	assert.InDelta(t, 1.0, q1+q2, 1e-6)
}

func TestClampProb(t *testing.T) {
	t.Parallel()

	assert.Equal(t, probEps, clampProb(-0.5))
	assert.Equal(t, 1-probEps, clampProb(1.5))
	assert.Equal(t, 0.5, clampProb(0.5))
}
