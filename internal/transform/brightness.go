package transform

import "github.com/johndpope/pix2latent/internal/tensor"

// Brightness adds a scalar offset to every pixel; parameter [b].
type Brightness struct{}

// ParamLen returns 1.
func (Brightness) ParamLen() int { return 1 }

// Init returns the identity parameter.
func (Brightness) Init() []float64 { return []float64{0} }

// Apply shifts the image by b.
func (Brightness) Apply(img *tensor.Tensor, p []float64) *tensor.Tensor {
	out := img.Clone()
	for i := range out.Data {
		out.Data[i] += p[0]
	}
	return out
}

// Backward passes the upstream gradient through unchanged and sums it
// for the offset parameter.
func (Brightness) Backward(img *tensor.Tensor, p []float64, upstream *tensor.Tensor) (*tensor.Tensor, []float64) {
	var db float64
	for _, v := range upstream.Data {
		db += v
	}
	return upstream.Clone(), []float64{db}
}
