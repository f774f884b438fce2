// Package pricing is the pure math kernel of the engine: de-vigging,
// fees, expected value, Kelly sizing, and passive-fill estimation.
// No I/O, no locks — every function is deterministic in its inputs.
package pricing

import "math"

const (
	probEps = 1e-6

	bisectTol  = 1e-12
	bisectIter = 200
)

func clampProb(p float64) float64 {
	if p < probEps {
		return probEps
	}
	if p > 1-probEps {
		return 1 - probEps
	}
	return p
}

func logit(p float64) float64 {
	p = clampProb(p)
	return math.Log(p / (1 - p))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// DeVigProportional removes the overround by scaling both implied
// probabilities by the book total. The crudest method; also the fallback
// when the iterative methods fail to converge.
func DeVigProportional(p1, p2 float64) (float64, float64) {
	p1, p2 = clampProb(p1), clampProb(p2)
	total := p1 + p2
	return p1 / total, p2 / total
}

// DeVigLogit removes the overround by shifting both logits equally:
// it finds λ such that σ(logit(p1)−λ) + σ(logit(p2)−λ) = 1 by bisection
// over λ ∈ [−50, 50]. The shift treats favorite and underdog symmetrically
// in logit space, unlike proportional scaling which shrinks the favorite
// more in absolute terms.
func DeVigLogit(p1, p2 float64) (float64, float64) {
	p1, p2 = clampProb(p1), clampProb(p2)
	l1, l2 := logit(p1), logit(p2)

	total := func(lambda float64) float64 {
		return sigmoid(l1-lambda) + sigmoid(l2-lambda)
	}

	lo, hi := -50.0, 50.0
	// total(λ) is strictly decreasing; the root is bracketed only when the
	// book total exceeds 1 somewhere in range.
	if (total(lo)-1)*(total(hi)-1) > 0 {
		return DeVigProportional(p1, p2)
	}

	for i := 0; i < bisectIter; i++ {
		mid := (lo + hi) / 2
		if total(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < bisectTol {
			break
		}
	}

	lambda := (lo + hi) / 2
	q1 := sigmoid(l1 - lambda)
	q2 := sigmoid(l2 - lambda)
	if !isFiniteProb(q1) || !isFiniteProb(q2) {
		return DeVigProportional(p1, p2)
	}
	return q1, q2
}

// DeVigShin removes the overround with the two-way Shin model, which
// attributes the book's margin to insider trading proportion z. Fair
// probabilities are
//
//	qᵢ = (√(z² + 4(1−z)·πᵢ²/Π) − z) / (2(1−z))
//
// with Π = π1+π2 and z solved so q1+q2 = 1 by bisection over z ∈ [0, 0.5).
// Falls back to proportional normalization when no root is bracketed.
func DeVigShin(p1, p2 float64) (float64, float64) {
	p1, p2 = clampProb(p1), clampProb(p2)
	booksum := p1 + p2

	shinProb := func(pi, z float64) float64 {
		return (math.Sqrt(z*z+4*(1-z)*pi*pi/booksum) - z) / (2 * (1 - z))
	}
	total := func(z float64) float64 {
		return shinProb(p1, z) + shinProb(p2, z)
	}

	lo, hi := 0.0, 0.499
	if (total(lo)-1)*(total(hi)-1) > 0 {
		return DeVigProportional(p1, p2)
	}

	for i := 0; i < bisectIter; i++ {
		mid := (lo + hi) / 2
		if total(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < bisectTol {
			break
		}
	}

	z := (lo + hi) / 2
	q1 := shinProb(p1, z)
	q2 := shinProb(p2, z)
	if !isFiniteProb(q1) || !isFiniteProb(q2) {
		return DeVigProportional(p1, p2)
	}
	return q1, q2
}

func isFiniteProb(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0 && p < 1
}
