package opt

import (
	"fmt"

	"github.com/johndpope/pix2latent/internal/loss"
	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/variable"
)

// Evaluator applies the generator and the loss to a batch of candidate
// variable assignments. Gradients are returned as values and never
// accumulated across calls, so independent evaluations cannot bleed
// into each other.
type Evaluator struct {
	Gen  Generator
	Loss loss.Loss

	// Transform, when set, is applied to each generated image before
	// scoring. Its parameters come from the TransformVars of each
	// candidate, concatenated in order.
	Transform     Transform
	TransformVars []string

	// TargetVar and WeightVar name the output-role variables consumed
	// by the loss. Empty strings default to "target" and "weight"; a
	// run without a mask may leave WeightVar pointing at an absent
	// variable, in which case the loss is unweighted.
	TargetVar string
	WeightVar string
}

// EvalResult carries per-candidate costs, generated outputs and, when
// requested, gradients with respect to every gradient-role input.
type EvalResult struct {
	Costs   []float64
	Outputs []*tensor.Tensor
	Grads   []map[string]*tensor.Tensor
}

func (e *Evaluator) targetVar() string {
	if e.TargetVar != "" {
		return e.TargetVar
	}
	return "target"
}

func (e *Evaluator) weightVar() string {
	if e.WeightVar != "" {
		return e.WeightVar
	}
	return "weight"
}

func (e *Evaluator) isTransformVar(name string) bool {
	for _, t := range e.TransformVars {
		if t == name {
			return true
		}
	}
	return false
}

// transformParams concatenates a candidate's transform variables into
// the flat parameter vector expected by the transform.
func (e *Evaluator) transformParams(c *variable.Candidate) ([]float64, error) {
	var p []float64
	for _, name := range e.TransformVars {
		v := c.Get(name)
		if v == nil {
			return nil, fmt.Errorf("opt: candidate is missing transform variable %q", name)
		}
		p = append(p, v.Data...)
	}
	if e.Transform != nil && len(p) != e.Transform.ParamLen() {
		return nil, fmt.Errorf("opt: transform expects %d parameters, got %d", e.Transform.ParamLen(), len(p))
	}
	return p, nil
}

// Evaluate scores the candidates in one vectorized pass. When withGrad
// is true it also returns gradients for every input-role variable that
// is not grad-free.
func (e *Evaluator) Evaluate(m *variable.Manager, cands []*variable.Candidate, withGrad bool) (*EvalResult, error) {
	if len(cands) == 0 {
		return &EvalResult{}, nil
	}

	// Stack generator inputs; transform variables bypass the generator.
	genInputs := make(map[string]*tensor.Tensor)
	for _, name := range m.InputNames() {
		if e.isTransformVar(name) {
			continue
		}
		vals := make([]*tensor.Tensor, len(cands))
		for i, c := range cands {
			v := c.Get(name)
			if v == nil {
				return nil, fmt.Errorf("opt: candidate %d is missing variable %q", i, name)
			}
			vals[i] = v
		}
		stacked, err := tensor.Stack(vals)
		if err != nil {
			return nil, fmt.Errorf("opt: stacking %q: %w", name, err)
		}
		genInputs[name] = stacked
	}

	genOut, err := e.Gen.Forward(genInputs)
	if err != nil {
		return nil, fmt.Errorf("opt: generator forward: %w", err)
	}
	if len(genOut.Shape) == 0 || genOut.Shape[0] != len(cands) {
		return nil, fmt.Errorf("opt: generator returned batch %v for %d candidates", genOut.Shape, len(cands))
	}

	// Per-candidate transform application.
	scored := genOut
	var params [][]float64
	if e.Transform != nil {
		imgs := genOut.Split()
		params = make([][]float64, len(cands))
		warped := make([]*tensor.Tensor, len(cands))
		for i, c := range cands {
			p, err := e.transformParams(c)
			if err != nil {
				return nil, err
			}
			params[i] = p
			warped[i] = e.Transform.Apply(imgs[i], p)
		}
		scored, err = tensor.Stack(warped)
		if err != nil {
			return nil, err
		}
	}

	target, weight, err := e.stackOutputs(m, cands, scored)
	if err != nil {
		return nil, err
	}

	costs, err := e.Loss.Forward(scored, target, weight)
	if err != nil {
		return nil, fmt.Errorf("opt: loss forward: %w", err)
	}

	res := &EvalResult{Costs: costs, Outputs: scored.Split()}
	if !withGrad {
		return res, nil
	}

	upstream, err := e.Loss.Backward(scored, target, weight)
	if err != nil {
		return nil, fmt.Errorf("opt: loss backward: %w", err)
	}

	// Chain the upstream gradient back through the transform.
	tGrads := make([][]float64, len(cands))
	if e.Transform != nil {
		imgs := genOut.Split()
		ups := upstream.Split()
		back := make([]*tensor.Tensor, len(cands))
		for i := range cands {
			dImg, dP := e.Transform.Backward(imgs[i], params[i], ups[i])
			back[i] = dImg
			tGrads[i] = dP
		}
		upstream, err = tensor.Stack(back)
		if err != nil {
			return nil, err
		}
	}

	genGrads, err := e.Gen.Backward(genInputs, upstream)
	if err != nil {
		return nil, fmt.Errorf("opt: generator backward: %w", err)
	}

	res.Grads = make([]map[string]*tensor.Tensor, len(cands))
	for i := range cands {
		res.Grads[i] = make(map[string]*tensor.Tensor)
	}
	for _, name := range m.GradNames() {
		if e.isTransformVar(name) {
			continue
		}
		g, ok := genGrads[name]
		if !ok {
			return nil, fmt.Errorf("opt: generator returned no gradient for %q", name)
		}
		split := g.Split()
		for i := range cands {
			res.Grads[i][name] = split[i]
		}
	}

	// Slice transform-parameter gradients back out per variable.
	if e.Transform != nil {
		for i := range cands {
			off := 0
			for _, name := range e.TransformVars {
				v := cands[i].Get(name)
				n := v.Len()
				d, ok := m.Descriptor(name)
				if ok && d.Role == variable.Input && !d.GradFree {
					gt, err := tensor.FromSlice(append([]float64{}, tGrads[i][off:off+n]...), d.Shape...)
					if err != nil {
						return nil, err
					}
					res.Grads[i][name] = gt
				}
				off += n
			}
		}
	}
	return res, nil
}

// stackOutputs broadcasts the fixed output-role variables across the
// batch. A missing weight variable yields an unweighted loss.
func (e *Evaluator) stackOutputs(m *variable.Manager, cands []*variable.Candidate, scored *tensor.Tensor) (target, weight *tensor.Tensor, err error) {
	tv := cands[0].Get(e.targetVar())
	if tv == nil {
		return nil, nil, &variable.ConfigurationError{Param: "target", Reason: fmt.Sprintf("variable %q is not registered", e.targetVar())}
	}
	targets := make([]*tensor.Tensor, len(cands))
	for i, c := range cands {
		targets[i] = c.Get(e.targetVar())
	}
	target, err = tensor.Stack(targets)
	if err != nil {
		return nil, nil, err
	}

	if wv := cands[0].Get(e.weightVar()); wv != nil {
		weights := make([]*tensor.Tensor, len(cands))
		for i, c := range cands {
			weights[i] = c.Get(e.weightVar())
		}
		weight, err = tensor.Stack(weights)
		if err != nil {
			return nil, nil, err
		}
	}
	return target, weight, nil
}
