package transform

import "github.com/johndpope/pix2latent/internal/tensor"

// Part is one stage of a composed transform. Weight scales the raw
// parameters before they reach the stage, which lets a shared search
// step size act with different sensitivity per stage.
type Part struct {
	T      interface {
		ParamLen() int
		Init() []float64
		Apply(img *tensor.Tensor, params []float64) *tensor.Tensor
		Backward(img *tensor.Tensor, params []float64, upstream *tensor.Tensor) (*tensor.Tensor, []float64)
	}
	Weight float64
}

// Compose chains transform stages; the flat parameter vector is the
// concatenation of every stage's raw parameters in order.
type Compose struct {
	Parts []Part
}

// NewCompose builds a composed transform.
func NewCompose(parts ...Part) *Compose {
	return &Compose{Parts: parts}
}

// ParamLen sums the stage parameter lengths.
func (c *Compose) ParamLen() int {
	n := 0
	for _, p := range c.Parts {
		n += p.T.ParamLen()
	}
	return n
}

// Init concatenates the stage identity parameters.
func (c *Compose) Init() []float64 {
	var out []float64
	for _, p := range c.Parts {
		out = append(out, p.T.Init()...)
	}
	return out
}

func (c *Compose) split(params []float64) [][]float64 {
	segs := make([][]float64, len(c.Parts))
	off := 0
	for i, p := range c.Parts {
		n := p.T.ParamLen()
		segs[i] = params[off : off+n]
		off += n
	}
	return segs
}

func (c *Compose) effective(part Part, raw []float64) []float64 {
	eff := make([]float64, len(raw))
	for i, v := range raw {
		eff[i] = v * part.Weight
	}
	return eff
}

// Apply runs the stages in order.
func (c *Compose) Apply(img *tensor.Tensor, params []float64) *tensor.Tensor {
	segs := c.split(params)
	cur := img
	for i, p := range c.Parts {
		cur = p.T.Apply(cur, c.effective(p, segs[i]))
	}
	return cur
}

// Backward chains the stage adjoints in reverse, returning the image
// gradient and the concatenated raw-parameter gradient.
func (c *Compose) Backward(img *tensor.Tensor, params []float64, upstream *tensor.Tensor) (*tensor.Tensor, []float64) {
	segs := c.split(params)

	// Recompute the forward intermediates; stage i consumed inputs[i].
	inputs := make([]*tensor.Tensor, len(c.Parts))
	cur := img
	for i, p := range c.Parts {
		inputs[i] = cur
		cur = p.T.Apply(cur, c.effective(p, segs[i]))
	}

	dParams := make([]float64, len(params))
	off := len(params)
	up := upstream
	for i := len(c.Parts) - 1; i >= 0; i-- {
		p := c.Parts[i]
		n := p.T.ParamLen()
		off -= n
		dImg, dEff := p.T.Backward(inputs[i], c.effective(p, segs[i]), up)
		for j := 0; j < n; j++ {
			dParams[off+j] = dEff[j] * p.Weight
		}
		up = dImg
	}
	return up, dParams
}

// Default is the standard pre-alignment transform: a spatial warp
// followed by a brightness shift with amplified sensitivity.
func Default() *Compose {
	return NewCompose(
		Part{T: Spatial{}, Weight: 1.0},
		Part{T: Brightness{}, Weight: 5.0},
	)
}
