package opt

import (
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/variable"
)

// Mayfly runs the external mayfly population optimizer over the
// grad-free input variables, flattened into one search vector. It is an
// alternative global-search backend for problems with no gradient
// variables; pair it with Gradient for local refinement.
type Mayfly struct {
	Vars  *variable.Manager
	Eval  *Evaluator
	Sched Scheduler

	MaxIters int
	PopSize  int
	Seed     int64

	// Bound is the symmetric scalar search bound applied to every
	// dimension; the external library only supports scalar bounds.
	Bound float64
}

// Optimize runs the search and returns a single-seed result.
func (m *Mayfly) Optimize() (*Result, error) {
	gfNames := m.Vars.GradFreeNames()
	if len(gfNames) == 0 {
		return nil, &variable.ConfigurationError{Param: "variables", Reason: "mayfly search requires at least one grad-free variable"}
	}
	if m.Sched.MaxBatchSize < 1 {
		return nil, &variable.ConfigurationError{Param: "MaxBatchSize", Reason: "must be >= 1"}
	}

	rng := rand.New(rand.NewSource(m.Seed))
	cands, err := m.Vars.Instantiate(1, rng)
	if err != nil {
		return nil, err
	}
	base := cands[0]

	dim := 0
	for _, name := range gfNames {
		dim += base.Get(name).Len()
	}

	eval := func(x []float64) float64 {
		c := base.Clone()
		off := 0
		for _, name := range gfNames {
			v := c.Get(name)
			copy(v.Data, x[off:off+v.Len()])
			off += v.Len()
		}
		m.Vars.ApplyHooks(c)
		res, err := m.Sched.Evaluate(m.Eval, m.Vars, []*variable.Candidate{c}, false)
		if err != nil || len(res.Costs) == 0 {
			return math.Inf(1)
		}
		cost := res.Costs[0]
		if math.IsNaN(cost) {
			return math.Inf(1)
		}
		return cost
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.MaxIters
	config.NPop = m.PopSize
	config.LowerBound = -m.Bound
	config.UpperBound = m.Bound
	config.Rand = rng

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, err
	}

	best := base.Clone()
	off := 0
	for _, name := range gfNames {
		v := best.Get(name)
		copy(v.Data, result.GlobalBest.Position[off:off+v.Len()])
		off += v.Len()
	}
	m.Vars.ApplyHooks(best)

	final, err := m.Sched.Evaluate(m.Eval, m.Vars, []*variable.Candidate{best}, false)
	if err != nil {
		return nil, err
	}
	return &Result{
		Best:    []*variable.Candidate{best},
		Costs:   []float64{final.Costs[0]},
		Outputs: []*tensor.Tensor{final.Outputs[0]},
	}, nil
}
