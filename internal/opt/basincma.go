package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/johndpope/pix2latent/internal/dist"
	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/variable"
)

// BasinCMA alternates a derivative-free population search over the
// grad-free variables with gradient-based refinement of the remaining
// input variables, each phase seeding the other (basin hopping). Seeds
// are independent searches; they are only grouped for batched
// evaluation and never exchange state.
type BasinCMA struct {
	Vars  *variable.Manager
	Eval  *Evaluator
	Sched Scheduler

	NumSeeds   int
	PopPerSeed int

	MetaSteps         int
	GradSteps         int
	FinetuneGradSteps int

	// RNG is the only source of randomness; identical seeds and step
	// budgets reproduce identical trajectories.
	RNG *rand.Rand

	// Log retains the per-phase cost history and per-meta-step outputs
	// for diagnostic replay.
	Log bool
}

// HistoryEntry records per-seed best costs after one phase.
type HistoryEntry struct {
	MetaStep int
	Phase    string
	Costs    []float64
}

// Result is the outcome of a run. The caller owns it; no optimizer
// state survives Optimize returning.
type Result struct {
	Best         []*variable.Candidate
	Costs        []float64
	InitialCosts []float64
	Outputs      []*tensor.Tensor
	History      []HistoryEntry
	Frames       [][]*tensor.Tensor
}

// seedState tracks one seed's running best candidate and cost.
type seedState struct {
	best *variable.Candidate
	cost float64
}

// betterCost reports whether c improves on cur. A finite cost always
// beats a non-finite one, so a seed that starts in a poisoned region
// can still recover.
func betterCost(c, cur float64) bool {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return false
	}
	return math.IsNaN(cur) || math.IsInf(cur, 0) || c < cur
}

func (o *BasinCMA) validate() error {
	if o.NumSeeds < 1 {
		return &variable.ConfigurationError{Param: "NumSeeds", Reason: "must be >= 1"}
	}
	if o.Sched.MaxBatchSize < 1 {
		return &variable.ConfigurationError{Param: "MaxBatchSize", Reason: "must be >= 1"}
	}
	if len(o.Vars.GradFreeNames()) > 0 && o.PopPerSeed < 2 {
		return &variable.ConfigurationError{Param: "PopPerSeed", Reason: "must be >= 2 for derivative-free search"}
	}
	if o.MetaSteps < 0 || o.GradSteps < 0 || o.FinetuneGradSteps < 0 {
		return &variable.ConfigurationError{Param: "steps", Reason: "step counts cannot be negative"}
	}
	if o.RNG == nil {
		return &variable.ConfigurationError{Param: "RNG", Reason: "an explicit random source is required"}
	}
	return nil
}

// Optimize runs the full meta-step loop plus the finetune phase and
// returns the best candidate per seed with its generated output.
func (o *BasinCMA) Optimize() (*Result, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	cands, err := o.Vars.Instantiate(o.NumSeeds, o.RNG)
	if err != nil {
		return nil, err
	}
	for _, c := range cands {
		o.Vars.ApplyHooks(c)
	}

	// Per-seed, per-variable distribution state. The mean starts at the
	// descriptor default (or zero) so encoder warm starts recentre the
	// search, with sigma taken from the declared distribution.
	gfNames := o.Vars.GradFreeNames()
	states := make([]map[string]*dist.CMAState, o.NumSeeds)
	for s := 0; s < o.NumSeeds; s++ {
		states[s] = make(map[string]*dist.CMAState, len(gfNames))
		for _, name := range gfNames {
			d, _ := o.Vars.Descriptor(name)
			mean := make([]float64, tensor.NumElems(d.Shape))
			if d.Default != nil {
				copy(mean, d.Default.Data)
			}
			st, err := dist.NewCMAState(mean, d.Distribution.Sigma(), o.PopPerSeed)
			if err != nil {
				return nil, fmt.Errorf("opt: cma init for %q: %w", name, err)
			}
			states[s][name] = st
		}
	}

	res := &Result{}
	seeds := make([]*seedState, o.NumSeeds)
	init, err := o.Sched.Evaluate(o.Eval, o.Vars, cands, false)
	if err != nil {
		return nil, err
	}
	for s := 0; s < o.NumSeeds; s++ {
		seeds[s] = &seedState{best: cands[s].Clone(), cost: init.Costs[s]}
	}
	res.InitialCosts = append([]float64{}, init.Costs...)

	// carried is the current candidate each phase hands to the next.
	carried := make([]*variable.Candidate, o.NumSeeds)
	for s := range carried {
		carried[s] = cands[s].Clone()
	}

	for meta := 0; meta < o.MetaSteps; meta++ {
		if len(gfNames) > 0 {
			if err := o.cmaPhase(meta, carried, states, seeds); err != nil {
				return nil, err
			}
			o.record(res, meta, "cma", seeds)
		}

		if err := o.gradPhase(carried, o.GradSteps, seeds); err != nil {
			return nil, err
		}
		o.record(res, meta, "grad", seeds)

		// Recentre the search distribution on the candidate that
		// emerged from refinement.
		for s := 0; s < o.NumSeeds; s++ {
			for _, name := range gfNames {
				states[s][name].SetMean(carried[s].Get(name).Data)
			}
		}

		if o.Log {
			frame, err := o.Sched.Evaluate(o.Eval, o.Vars, carried, false)
			if err != nil {
				return nil, err
			}
			res.Frames = append(res.Frames, frame.Outputs)
		}
	}

	// Finetune: gradient-only refinement of the running best, no more
	// population resampling.
	for s := 0; s < o.NumSeeds; s++ {
		carried[s] = seeds[s].best.Clone()
	}
	if err := o.gradPhase(carried, o.FinetuneGradSteps, seeds); err != nil {
		return nil, err
	}
	o.record(res, o.MetaSteps, "finetune", seeds)

	res.Best = make([]*variable.Candidate, o.NumSeeds)
	res.Costs = make([]float64, o.NumSeeds)
	for s := 0; s < o.NumSeeds; s++ {
		res.Best[s] = seeds[s].best
		res.Costs[s] = seeds[s].cost
	}
	final, err := o.Sched.Evaluate(o.Eval, o.Vars, res.Best, false)
	if err != nil {
		return nil, err
	}
	res.Outputs = final.Outputs
	return res, nil
}

// cmaPhase samples a population per seed, scores it batched, and
// applies the rank-based update. The best sample of the phase becomes
// the carried candidate for the gradient phase.
func (o *BasinCMA) cmaPhase(meta int, carried []*variable.Candidate, states []map[string]*dist.CMAState, seeds []*seedState) error {
	gfNames := o.Vars.GradFreeNames()
	pop := make([]*variable.Candidate, 0, o.NumSeeds*o.PopPerSeed)
	for s := 0; s < o.NumSeeds; s++ {
		samples := make(map[string][][]float64, len(gfNames))
		for _, name := range gfNames {
			samples[name] = states[s][name].Sample(o.RNG, o.PopPerSeed)
		}
		for k := 0; k < o.PopPerSeed; k++ {
			c := carried[s].Clone()
			for _, name := range gfNames {
				d, _ := o.Vars.Descriptor(name)
				v, err := tensor.FromSlice(samples[name][k], d.Shape...)
				if err != nil {
					return err
				}
				c.Set(name, v)
			}
			o.Vars.ApplyHooks(c)
			pop = append(pop, c)
		}
	}

	res, err := o.Sched.Evaluate(o.Eval, o.Vars, pop, false)
	if err != nil {
		return err
	}

	for s := 0; s < o.NumSeeds; s++ {
		base := s * o.PopPerSeed
		// Rank ascending by cost; non-finite costs rank worst; ties
		// break toward the earlier-sampled candidate.
		order := make([]int, o.PopPerSeed)
		for i := range order {
			order[i] = i
		}
		finite := 0
		for _, c := range res.Costs[base : base+o.PopPerSeed] {
			if !math.IsNaN(c) && !math.IsInf(c, 0) {
				finite++
			}
		}
		if finite == 0 {
			// No valid ranking exists; fail this meta-step explicitly
			// and leave the seed's state unchanged.
			slog.Warn("population evaluation produced no finite cost; meta-step skipped",
				"seed", s, "meta_step", meta)
			continue
		}
		sort.SliceStable(order, func(a, b int) bool {
			ca, cb := res.Costs[base+order[a]], res.Costs[base+order[b]]
			fa := !math.IsNaN(ca) && !math.IsInf(ca, 0)
			fb := !math.IsNaN(cb) && !math.IsInf(cb, 0)
			if fa != fb {
				return fa
			}
			if !fa {
				return false
			}
			return ca < cb
		})
		if finite < o.PopPerSeed {
			slog.Warn("non-finite costs excluded from ranking",
				"seed", s, "meta_step", meta, "excluded", o.PopPerSeed-finite)
		}

		// Only finite-cost samples feed the distribution update; with
		// fewer of them than the recombination needs, the update is
		// skipped and the distribution left as it was.
		if mu := states[s][gfNames[0]].Mu(); finite < mu {
			slog.Warn("too few finite costs for a distribution update; update skipped",
				"seed", s, "meta_step", meta, "finite", finite, "needed", mu)
		} else {
			for _, name := range gfNames {
				ranked := make([][]float64, finite)
				for r, idx := range order[:finite] {
					ranked[r] = pop[base+idx].Get(name).Data
				}
				if err := states[s][name].RankUpdate(ranked); err != nil {
					return err
				}
			}
		}

		winner := pop[base+order[0]]
		carried[s] = winner.Clone()
		if c := res.Costs[base+order[0]]; betterCost(c, seeds[s].cost) {
			seeds[s].best = winner.Clone()
			seeds[s].cost = c
		}
	}
	return nil
}

// gradPhase runs first-order refinement of the gradient variables while
// the grad-free variables stay fixed at their current best values.
func (o *BasinCMA) gradPhase(carried []*variable.Candidate, steps int, seeds []*seedState) error {
	gradNames := o.Vars.GradNames()
	if steps == 0 || len(gradNames) == 0 {
		return nil
	}

	adams := make([]map[string]*Adam, o.NumSeeds)
	for s := 0; s < o.NumSeeds; s++ {
		adams[s] = make(map[string]*Adam, len(gradNames))
		for _, name := range gradNames {
			d, _ := o.Vars.Descriptor(name)
			adams[s][name] = NewAdam(tensor.NumElems(d.Shape), d.LearningRate)
		}
	}

	for step := 0; step < steps; step++ {
		res, err := o.Sched.Evaluate(o.Eval, o.Vars, carried, true)
		if err != nil {
			return err
		}
		for s := 0; s < o.NumSeeds; s++ {
			if c := res.Costs[s]; betterCost(c, seeds[s].cost) {
				seeds[s].best = carried[s].Clone()
				seeds[s].cost = c
			}

			ok := true
			for _, name := range gradNames {
				if g := res.Grads[s][name]; g == nil || !g.IsFinite() {
					ok = false
					break
				}
			}
			if !ok {
				// Skip only this step for this seed; isolated numeric
				// instability is never fatal to the run.
				slog.Warn("non-finite gradient; step skipped", "seed", s, "step", step)
				continue
			}
			for _, name := range gradNames {
				adams[s][name].Step(carried[s].Get(name).Data, res.Grads[s][name].Data)
			}
			o.Vars.ApplyHooks(carried[s])
		}
	}

	// Score the final iterate so the tracked best reflects it.
	res, err := o.Sched.Evaluate(o.Eval, o.Vars, carried, false)
	if err != nil {
		return err
	}
	for s := 0; s < o.NumSeeds; s++ {
		if c := res.Costs[s]; betterCost(c, seeds[s].cost) {
			seeds[s].best = carried[s].Clone()
			seeds[s].cost = c
		}
	}
	return nil
}

func (o *BasinCMA) record(res *Result, meta int, phase string, seeds []*seedState) {
	if !o.Log {
		return
	}
	costs := make([]float64, len(seeds))
	for i, st := range seeds {
		costs[i] = st.cost
	}
	res.History = append(res.History, HistoryEntry{MetaStep: meta, Phase: phase, Costs: costs})
}
