package transform

import (
	"math/rand"

	"github.com/johndpope/pix2latent/internal/dist"
	"github.com/johndpope/pix2latent/internal/loss"
	"github.com/johndpope/pix2latent/internal/opt"
	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/variable"
)

// SearchConfig bounds the nested transform search.
type SearchConfig struct {
	MetaSteps    int
	GradSteps    int
	NumSeeds     int
	PopPerSeed   int
	MaxBatchSize int

	// SpatialSigma is the population search spread for the warp
	// parameters; PhotoLR the learning rate for the photometric ones.
	SpatialSigma float64
	PhotoLR      float64

	Log bool
}

// DefaultSearchConfig mirrors the step budget of the main optimizer at
// a smaller scale.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MetaSteps:    30,
		GradSteps:    30,
		NumSeeds:     4,
		PopPerSeed:   8,
		MaxBatchSize: 9,
		SpatialSigma: 0.1,
		PhotoLR:      0.01,
	}
}

// Search estimates transform parameters with the same alternating
// population/gradient engine as the main run: the warp parameters of
// the first stage are searched derivative-free, the remaining stage
// parameters are refined by gradient descent. The variable registry is
// rebuilt from the snapshot so the caller's state is never mutated.
//
// init, when non-nil, warm-starts the first-stage parameters (e.g. from
// PreAlign). The returned vector is the full parameter set of the best
// seed, ready to be installed as the default for the main run's
// transform variable.
func Search(gen opt.Generator, lossFn loss.Loss, tf *Compose, snap variable.Snapshot, init []float64, cfg SearchConfig, rng *rand.Rand) ([]float64, *opt.Result, error) {
	m := variable.FromSnapshot(snap)

	// Only the transform parameters are searched; the generator's own
	// variables keep their per-seed instantiated values.
	for _, name := range m.InputNames() {
		if err := m.Freeze(name); err != nil {
			return nil, nil, err
		}
	}

	spatial := tf.Parts[0]
	nSpatial := spatial.T.ParamLen()
	spatialInit := spatial.T.Init()
	if init != nil {
		spatialInit = append([]float64{}, init[:nSpatial]...)
	}
	def, err := tensor.FromSlice(spatialInit, nSpatial)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Register(variable.Descriptor{
		Name:         "t_spatial",
		Shape:        []int{nSpatial},
		Role:         variable.Input,
		GradFree:     true,
		Distribution: dist.NewTruncatedNormalModulo(cfg.SpatialSigma, 0),
		Default:      def,
	}); err != nil {
		return nil, nil, err
	}

	names := []string{"t_spatial"}
	nPhoto := tf.ParamLen() - nSpatial
	if nPhoto > 0 {
		var photoInit []float64
		for _, p := range tf.Parts[1:] {
			photoInit = append(photoInit, p.T.Init()...)
		}
		photoDef, err := tensor.FromSlice(photoInit, nPhoto)
		if err != nil {
			return nil, nil, err
		}
		if err := m.Register(variable.Descriptor{
			Name:         "t_photo",
			Shape:        []int{nPhoto},
			Role:         variable.Input,
			LearningRate: cfg.PhotoLR,
			Default:      photoDef,
			RequiresGrad: true,
		}); err != nil {
			return nil, nil, err
		}
		names = append(names, "t_photo")
	}

	engine := &opt.BasinCMA{
		Vars: m,
		Eval: &opt.Evaluator{
			Gen:           gen,
			Loss:          lossFn,
			Transform:     tf,
			TransformVars: names,
		},
		Sched:      opt.Scheduler{MaxBatchSize: cfg.MaxBatchSize},
		NumSeeds:   cfg.NumSeeds,
		PopPerSeed: cfg.PopPerSeed,
		MetaSteps:  cfg.MetaSteps,
		GradSteps:  cfg.GradSteps,
		RNG:        rng,
		Log:        cfg.Log,
	}
	res, err := engine.Optimize()
	if err != nil {
		return nil, nil, err
	}

	bestSeed := 0
	for s, c := range res.Costs {
		if c < res.Costs[bestSeed] {
			bestSeed = s
		}
	}
	var t []float64
	for _, name := range names {
		t = append(t, res.Best[bestSeed].Get(name).Data...)
	}
	return t, res, nil
}
