package opt

import (
	"math"
	"testing"
)

func TestAdamMinimizesQuadratic(t *testing.T) {
	params := []float64{5, -4}
	target := []float64{3, 1}
	a := NewAdam(len(params), 0.1)

	for step := 0; step < 500; step++ {
		grads := make([]float64, len(params))
		for i := range params {
			grads[i] = 2 * (params[i] - target[i])
		}
		a.Step(params, grads)
	}
	for i := range params {
		if math.Abs(params[i]-target[i]) > 1e-3 {
			t.Errorf("param %d: got %v, want %v", i, params[i], target[i])
		}
	}
}

func TestAdamFirstStepBounded(t *testing.T) {
	// Bias correction makes the very first step approximately lr.
	params := []float64{0}
	a := NewAdam(1, 0.05)
	a.Step(params, []float64{1000})
	if math.Abs(params[0]+0.05) > 1e-6 {
		t.Errorf("first step: got %v, want -0.05", params[0])
	}
}
