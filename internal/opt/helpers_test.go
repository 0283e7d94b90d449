package opt

import (
	"fmt"
	"math"
	"testing"

	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/variable"
)

// identityGen concatenates the named input variables into the output,
// so a squared-error loss against a constant target gives a quadratic
// objective with a known minimum.
type identityGen struct {
	names []string
	dims  []int
}

func (g *identityGen) total() int {
	n := 0
	for _, d := range g.dims {
		n += d
	}
	return n
}

func (g *identityGen) Forward(inputs map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	first := inputs[g.names[0]]
	if first == nil {
		return nil, fmt.Errorf("missing input %q", g.names[0])
	}
	batch := first.Shape[0]
	out := tensor.New(batch, g.total())
	for b := 0; b < batch; b++ {
		off := 0
		for i, name := range g.names {
			in := inputs[name]
			if in == nil {
				return nil, fmt.Errorf("missing input %q", name)
			}
			copy(out.Data[b*g.total()+off:b*g.total()+off+g.dims[i]], in.Data[b*g.dims[i]:(b+1)*g.dims[i]])
			off += g.dims[i]
		}
	}
	return out, nil
}

func (g *identityGen) Backward(inputs map[string]*tensor.Tensor, upstream *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	batch := upstream.Shape[0]
	grads := make(map[string]*tensor.Tensor, len(g.names))
	off := 0
	for i, name := range g.names {
		gt := tensor.New(batch, g.dims[i])
		for b := 0; b < batch; b++ {
			copy(gt.Data[b*g.dims[i]:(b+1)*g.dims[i]], upstream.Data[b*g.total()+off:b*g.total()+off+g.dims[i]])
		}
		grads[name] = gt
		off += g.dims[i]
	}
	return grads, nil
}

// nanGen is an identityGen that poisons the output of any candidate
// whose first "x" element falls below the threshold.
type nanGen struct {
	identityGen
	threshold float64
}

func (g *nanGen) Forward(inputs map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	out, err := g.identityGen.Forward(inputs)
	if err != nil {
		return nil, err
	}
	x := inputs["x"]
	batch := out.Shape[0]
	for b := 0; b < batch; b++ {
		if x.Data[b*g.dims[0]] < g.threshold {
			for i := b * g.total(); i < (b+1)*g.total(); i++ {
				out.Data[i] = math.NaN()
			}
		}
	}
	return out, nil
}

// capGen is an identityGen that poisons every output row past a fixed
// per-batch row count, so the number of finite costs in a population
// evaluation is known exactly.
type capGen struct {
	identityGen
	finiteRows int
}

func (g *capGen) Forward(inputs map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	out, err := g.identityGen.Forward(inputs)
	if err != nil {
		return nil, err
	}
	for b := g.finiteRows; b < out.Shape[0]; b++ {
		for i := b * g.total(); i < (b+1)*g.total(); i++ {
			out.Data[i] = math.NaN()
		}
	}
	return out, nil
}

func registerTarget(t *testing.T, m *variable.Manager, value float64, dim int) {
	t.Helper()
	def := tensor.New(dim)
	def.Fill(value)
	if err := m.Register(variable.Descriptor{
		Name:    "target",
		Shape:   []int{dim},
		Role:    variable.Output,
		Default: def,
	}); err != nil {
		t.Fatalf("register target: %v", err)
	}
}
