package opt

import "math"

// Adam is a first-order adaptive optimizer over a flat parameter slice,
// with bias-corrected moment estimates.
type Adam struct {
	m, v  []float64
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
}

// NewAdam creates an optimizer for n parameters.
func NewAdam(n int, lr float64) *Adam {
	return &Adam{
		m:     make([]float64, n),
		v:     make([]float64, n),
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
	}
}

// Step applies one update in place.
func (a *Adam) Step(params, grads []float64) {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i := range params {
		g := grads[i]
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		mHat := a.m[i] / bc1
		vHat := a.v[i] / bc2
		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}
