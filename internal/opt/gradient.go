package opt

import (
	"math/rand"

	"github.com/johndpope/pix2latent/internal/variable"
)

// Gradient is the pure first-order optimizer: no population sampling,
// just Adam refinement of the gradient variables from their defaults.
// It reuses the BasinCMA machinery with an empty meta-step budget.
type Gradient struct {
	Vars  *variable.Manager
	Eval  *Evaluator
	Sched Scheduler

	NumSeeds int
	Steps    int
	RNG      *rand.Rand
	Log      bool
}

// Optimize instantiates the population and runs Steps gradient updates.
func (g *Gradient) Optimize() (*Result, error) {
	inner := &BasinCMA{
		Vars:              g.Vars,
		Eval:              g.Eval,
		Sched:             g.Sched,
		NumSeeds:          g.NumSeeds,
		MetaSteps:         0,
		FinetuneGradSteps: g.Steps,
		RNG:               g.RNG,
		Log:               g.Log,
	}
	return inner.Optimize()
}
