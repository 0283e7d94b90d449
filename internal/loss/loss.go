// Package loss defines the scoring contract between the optimizer and
// the externally supplied loss functions, plus the built-in masked
// reconstruction losses and the weighted-sum combinator.
package loss

import (
	"fmt"
	"math"

	"github.com/johndpope/pix2latent/internal/tensor"
)

// Loss scores a batch of generated outputs against a fixed target.
// All tensors carry a leading batch dimension; Forward returns one
// scalar per candidate. The weight may be per-element or single-channel
// (broadcast across the output's channels). Backward returns the
// gradient of the summed cost with respect to the generated output,
// which is also the per-candidate gradient since candidates do not
// interact.
type Loss interface {
	Forward(out, target, weight *tensor.Tensor) ([]float64, error)
	Backward(out, target, weight *tensor.Tensor) (*tensor.Tensor, error)
}

func checkShapes(out, target, weight *tensor.Tensor) (batch, stride, wstride int, err error) {
	if !tensor.SameShape(out, target) {
		return 0, 0, 0, fmt.Errorf("loss: output shape %v does not match target %v", out.Shape, target.Shape)
	}
	if len(out.Shape) < 1 {
		return 0, 0, 0, fmt.Errorf("loss: batched tensor required")
	}
	batch = out.Shape[0]
	stride = out.Len() / batch
	wstride = stride
	if weight != nil {
		if len(weight.Shape) < 1 || weight.Shape[0] != batch {
			return 0, 0, 0, fmt.Errorf("loss: weight shape %v does not match output batch %v", weight.Shape, out.Shape)
		}
		wstride = weight.Len() / batch
		if wstride != stride && (wstride == 0 || stride%wstride != 0) {
			return 0, 0, 0, fmt.Errorf("loss: weight has %d elements per candidate, cannot broadcast to %d", wstride, stride)
		}
	}
	return batch, stride, wstride, nil
}

// weightAt resolves the weight of element j within candidate b. A weight
// with fewer elements per candidate than the output (a single-channel
// mask scoring a multi-channel image) is broadcast across channels.
func weightAt(weight *tensor.Tensor, b, j, wstride int) float64 {
	if weight == nil {
		return 1
	}
	return weight.Data[b*wstride+j%wstride]
}

// MaskedMSE is the weighted mean squared error, normalized by the total
// weight so masked and unmasked runs are on a comparable scale.
type MaskedMSE struct{}

// Forward returns one cost per candidate.
func (MaskedMSE) Forward(out, target, weight *tensor.Tensor) ([]float64, error) {
	batch, stride, wstride, err := checkShapes(out, target, weight)
	if err != nil {
		return nil, err
	}
	costs := make([]float64, batch)
	for b := 0; b < batch; b++ {
		var sum, wsum float64
		for j := 0; j < stride; j++ {
			i := b*stride + j
			w := weightAt(weight, b, j, wstride)
			d := out.Data[i] - target.Data[i]
			sum += w * d * d
			wsum += w
		}
		if wsum == 0 {
			costs[b] = math.NaN()
			continue
		}
		costs[b] = sum / wsum
	}
	return costs, nil
}

// Backward returns d cost / d out.
func (MaskedMSE) Backward(out, target, weight *tensor.Tensor) (*tensor.Tensor, error) {
	batch, stride, wstride, err := checkShapes(out, target, weight)
	if err != nil {
		return nil, err
	}
	grad := tensor.New(out.Shape...)
	for b := 0; b < batch; b++ {
		var wsum float64
		for j := 0; j < stride; j++ {
			wsum += weightAt(weight, b, j, wstride)
		}
		if wsum == 0 {
			continue
		}
		for j := 0; j < stride; j++ {
			i := b*stride + j
			w := weightAt(weight, b, j, wstride)
			grad.Data[i] = 2 * w * (out.Data[i] - target.Data[i]) / wsum
		}
	}
	return grad, nil
}

// MaskedL1 is the weighted mean absolute error.
type MaskedL1 struct{}

// Forward returns one cost per candidate.
func (MaskedL1) Forward(out, target, weight *tensor.Tensor) ([]float64, error) {
	batch, stride, wstride, err := checkShapes(out, target, weight)
	if err != nil {
		return nil, err
	}
	costs := make([]float64, batch)
	for b := 0; b < batch; b++ {
		var sum, wsum float64
		for j := 0; j < stride; j++ {
			i := b*stride + j
			w := weightAt(weight, b, j, wstride)
			sum += w * math.Abs(out.Data[i]-target.Data[i])
			wsum += w
		}
		if wsum == 0 {
			costs[b] = math.NaN()
			continue
		}
		costs[b] = sum / wsum
	}
	return costs, nil
}

// Backward returns d cost / d out using the sign subgradient.
func (MaskedL1) Backward(out, target, weight *tensor.Tensor) (*tensor.Tensor, error) {
	batch, stride, wstride, err := checkShapes(out, target, weight)
	if err != nil {
		return nil, err
	}
	grad := tensor.New(out.Shape...)
	for b := 0; b < batch; b++ {
		var wsum float64
		for j := 0; j < stride; j++ {
			wsum += weightAt(weight, b, j, wstride)
		}
		if wsum == 0 {
			continue
		}
		for j := 0; j < stride; j++ {
			i := b*stride + j
			w := weightAt(weight, b, j, wstride)
			d := out.Data[i] - target.Data[i]
			switch {
			case d > 0:
				grad.Data[i] = w / wsum
			case d < 0:
				grad.Data[i] = -w / wsum
			}
		}
	}
	return grad, nil
}
