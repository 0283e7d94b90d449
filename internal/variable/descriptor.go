package variable

import (
	"math/rand"

	"github.com/johndpope/pix2latent/internal/tensor"
)

// Role tags how a variable participates in evaluation.
type Role int

const (
	// Input variables are fed to the generator (or the transform) and
	// are the ones being optimized.
	Input Role = iota
	// Output variables are fixed targets consumed by the loss, e.g. the
	// target image and the loss weight mask. They are never optimized.
	Output
)

func (r Role) String() string {
	switch r {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Distribution samples initial values and perturbations for grad-free
// variables. Sigma exposes the configured spread so the evolution
// strategy can seed its initial step size from it.
type Distribution interface {
	Sample(rng *rand.Rand, shape []int) *tensor.Tensor
	Sigma() float64
}

// Hook is a pure post-update correction applied to a variable's value
// after every optimizer update, e.g. clamping to a legal range.
type Hook func(*tensor.Tensor) *tensor.Tensor

// Descriptor declares one named optimizable (or fixed) tensor.
type Descriptor struct {
	// Name is the unique key; it must match the argument name expected
	// by the generator and loss.
	Name string

	// Shape of a single-seed value, without the batch dimension.
	Shape []int

	// Role distinguishes optimizer inputs from fixed loss targets.
	Role Role

	// GradFree variables are optimized by the derivative-free population
	// search; all other input variables are optimized by gradient
	// descent.
	GradFree bool

	// Distribution samples initial values; required for grad-free
	// variables, optional for gradient variables that want randomized
	// per-seed starting points.
	Distribution Distribution

	// LearningRate for the gradient phase; ignored for grad-free
	// variables.
	LearningRate float64

	// Default is the initial value. Optional for input variables
	// (zeros are used), required for output variables.
	Default *tensor.Tensor

	// Hook is applied to the value after every update. Optional.
	Hook Hook

	// RequiresGrad marks whether gradients are tracked for this
	// variable. Output variables set this to false.
	RequiresGrad bool

	// Frozen input variables keep their instantiated value for the
	// whole run: they are excluded from both search phases. Used by the
	// nested transform search to hold the generator's own variables
	// fixed.
	Frozen bool
}

// clone returns a deep copy of the descriptor, including its default.
func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.Shape = append([]int{}, d.Shape...)
	if d.Default != nil {
		c.Default = d.Default.Clone()
	}
	return &c
}

// Clamp returns a hook limiting values to [-bound, bound].
// Applying it twice is the same as applying it once.
func Clamp(bound float64) Hook {
	return func(t *tensor.Tensor) *tensor.Tensor {
		out := t.Clone()
		out.Clamp(-bound, bound)
		return out
	}
}

// ClampRange returns a hook limiting values to [lo, hi].
func ClampRange(lo, hi float64) Hook {
	return func(t *tensor.Tensor) *tensor.Tensor {
		out := t.Clone()
		out.Clamp(lo, hi)
		return out
	}
}
