// Package opt implements the hybrid population/gradient optimizer: the
// batched loss evaluator, the minibatch scheduler, the Adam refiner and
// the alternating BasinCMA search loop.
package opt

import "github.com/johndpope/pix2latent/internal/tensor"

// Generator is the frozen generative model being inverted. Inputs are a
// mapping from variable name to a stacked tensor whose leading dimension
// is the batch size; the output carries the same leading dimension.
//
// Backward is the vector-Jacobian product: given the upstream gradient
// of the cost with respect to the output, it returns the gradient with
// respect to every input tensor. The generator's parameters are
// read-only throughout a run.
type Generator interface {
	Forward(inputs map[string]*tensor.Tensor) (*tensor.Tensor, error)
	Backward(inputs map[string]*tensor.Tensor, upstream *tensor.Tensor) (map[string]*tensor.Tensor, error)
}

// Transform warps a single generated image with a small parameter
// vector before it is scored, e.g. a 2-D offset/scale plus brightness.
// Backward returns both the gradient flowing back into the image and
// the gradient with respect to the parameters.
type Transform interface {
	ParamLen() int
	Init() []float64
	Apply(img *tensor.Tensor, params []float64) *tensor.Tensor
	Backward(img *tensor.Tensor, params []float64, upstream *tensor.Tensor) (dImg *tensor.Tensor, dParams []float64)
}
