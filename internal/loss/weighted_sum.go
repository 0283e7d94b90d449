package loss

import "github.com/johndpope/pix2latent/internal/tensor"

// Component pairs a loss term with its weight in a composite loss.
type Component struct {
	Loss   Loss
	Weight float64
}

// WeightedSum combines loss components as sum_i w_i * L_i. It replaces
// ad-hoc closure arithmetic with an explicit combinator so every term
// goes through the same interface contract.
type WeightedSum []Component

// Forward sums the weighted per-candidate costs of all components.
func (ws WeightedSum) Forward(out, target, weight *tensor.Tensor) ([]float64, error) {
	var total []float64
	for _, c := range ws {
		costs, err := c.Loss.Forward(out, target, weight)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = make([]float64, len(costs))
		}
		for i, v := range costs {
			total[i] += c.Weight * v
		}
	}
	return total, nil
}

// Backward sums the weighted gradients of all components.
func (ws WeightedSum) Backward(out, target, weight *tensor.Tensor) (*tensor.Tensor, error) {
	var total *tensor.Tensor
	for _, c := range ws {
		g, err := c.Loss.Backward(out, target, weight)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = tensor.New(out.Shape...)
		}
		for i, v := range g.Data {
			total.Data[i] += c.Weight * v
		}
	}
	return total, nil
}

// Projection is the default reconstruction loss for image inversion:
// masked L1 plus a mean-squared term, mirroring the usual weighted
// pixel + smooth-penalty combination.
func Projection() WeightedSum {
	return WeightedSum{
		{Loss: MaskedL1{}, Weight: 1.0},
		{Loss: MaskedMSE{}, Weight: 1.0},
	}
}
