// Package dist provides the sampling distributions and the rank-based
// evolution strategy used by the derivative-free search phase.
package dist

import (
	"math"
	"math/rand"

	"github.com/johndpope/pix2latent/internal/tensor"
)

// TruncatedNormalModulo samples from N(0, sigma^2) and folds values that
// fall outside [-trunc, trunc] back into range with a modulo, so the
// tails are redistributed instead of piling up at the boundary.
type TruncatedNormalModulo struct {
	SigmaValue float64
	Trunc      float64
}

// NewTruncatedNormalModulo constructs the sampler.
func NewTruncatedNormalModulo(sigma, trunc float64) TruncatedNormalModulo {
	return TruncatedNormalModulo{SigmaValue: sigma, Trunc: trunc}
}

// Sample draws one tensor of the given shape.
func (d TruncatedNormalModulo) Sample(rng *rand.Rand, shape []int) *tensor.Tensor {
	out := tensor.New(shape...)
	for i := range out.Data {
		v := rng.NormFloat64() * d.SigmaValue
		if d.Trunc > 0 && math.Abs(v) > d.Trunc {
			v = math.Mod(v, d.Trunc)
		}
		out.Data[i] = v
	}
	return out
}

// Sigma returns the configured spread, used to seed the evolution
// strategy's initial step size.
func (d TruncatedNormalModulo) Sigma() float64 {
	return d.SigmaValue
}

// Uniform samples uniformly from [Lo, Hi].
type Uniform struct {
	Lo, Hi float64
}

// Sample draws one tensor of the given shape.
func (d Uniform) Sample(rng *rand.Rand, shape []int) *tensor.Tensor {
	out := tensor.New(shape...)
	for i := range out.Data {
		out.Data[i] = d.Lo + rng.Float64()*(d.Hi-d.Lo)
	}
	return out
}

// Sigma approximates the standard deviation of the uniform range.
func (d Uniform) Sigma() float64 {
	return (d.Hi - d.Lo) / math.Sqrt(12)
}
