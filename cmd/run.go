package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/johndpope/pix2latent/internal/config"
	"github.com/johndpope/pix2latent/internal/dist"
	"github.com/johndpope/pix2latent/internal/imageio"
	"github.com/johndpope/pix2latent/internal/loss"
	"github.com/johndpope/pix2latent/internal/opt"
	"github.com/johndpope/pix2latent/internal/render"
	"github.com/johndpope/pix2latent/internal/store"
	"github.com/johndpope/pix2latent/internal/tensor"
	"github.com/johndpope/pix2latent/internal/transform"
	"github.com/johndpope/pix2latent/internal/variable"
	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	imagePath  string
	maskPath   string
	outDir     string
	optimizer  string
	imageSize  int
	blobs      int
	classLabel int

	learningRate float64
	truncate     float64
	numSeeds     int
	popPerSeed   int
	metaSteps    int
	gradSteps    int
	finetune     int
	maxBatch     int
	searchTf     bool
	saveFrames   bool
	seed         int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single inversion",
	Long: `Inverts a target image into the generator's latent space and writes
the result, the best rendered image and the per-phase cost trace to the
output directory.`,
	RunE: runInversion,
}

func init() {
	runCmd.Flags().StringVar(&cfgPath, "config", "", "YAML run config (flags override its values)")
	runCmd.Flags().StringVar(&imagePath, "image", "", "Target image path (required unless set in config)")
	runCmd.Flags().StringVar(&maskPath, "mask", "", "Loss weight mask path")
	runCmd.Flags().StringVar(&outDir, "out", "./results", "Output directory")
	runCmd.Flags().StringVar(&optimizer, "optimizer", "basincma", "Optimizer: basincma, gradient, mayfly")
	runCmd.Flags().IntVar(&imageSize, "size", 128, "Working image resolution")
	runCmd.Flags().IntVar(&blobs, "blobs", 32, "Number of blobs in the built-in renderer")
	runCmd.Flags().IntVar(&classLabel, "class", 0, "Class label recorded with the run")

	runCmd.Flags().Float64Var(&learningRate, "lr", 0.05, "Gradient-phase learning rate")
	runCmd.Flags().Float64Var(&truncate, "truncate", 2.0, "Latent truncation bound")
	runCmd.Flags().IntVar(&numSeeds, "seeds", 9, "Number of independent seeds")
	runCmd.Flags().IntVar(&popPerSeed, "pop", 16, "Population size per seed")
	runCmd.Flags().IntVar(&metaSteps, "meta-steps", 30, "Outer alternation steps")
	runCmd.Flags().IntVar(&gradSteps, "grad-steps", 30, "Gradient steps per meta-step")
	runCmd.Flags().IntVar(&finetune, "finetune-steps", 300, "Final gradient refinement steps")
	runCmd.Flags().IntVar(&maxBatch, "max-batch", 9, "Maximum evaluation batch size")
	runCmd.Flags().BoolVar(&searchTf, "search-transform", false, "Search a spatial/photometric transform first")
	runCmd.Flags().BoolVar(&saveFrames, "save-frames", false, "Save the best seed's image each meta-step")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")

	rootCmd.AddCommand(runCmd)
}

// resolveConfig layers the precedence: built-in defaults, then the YAML
// config file, then any flag the user set explicitly.
func resolveConfig(cmd *cobra.Command) (*config.Run, error) {
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	f := cmd.Flags()
	if f.Changed("image") || cfg.ImagePath == "" {
		cfg.ImagePath = imagePath
	}
	if f.Changed("mask") {
		cfg.MaskPath = maskPath
	}
	if f.Changed("out") {
		cfg.OutDir = outDir
	}
	if f.Changed("class") {
		cfg.ClassLabel = classLabel
	}
	if f.Changed("lr") {
		cfg.LearningRate = learningRate
	}
	if f.Changed("truncate") {
		cfg.Truncate = truncate
	}
	if f.Changed("seeds") {
		cfg.NumSeeds = numSeeds
	}
	if f.Changed("pop") {
		cfg.PopPerSeed = popPerSeed
	}
	if f.Changed("meta-steps") {
		cfg.MetaSteps = metaSteps
	}
	if f.Changed("grad-steps") {
		cfg.GradSteps = gradSteps
	}
	if f.Changed("finetune-steps") {
		cfg.FinetuneGradSteps = finetune
	}
	if f.Changed("max-batch") {
		cfg.MaxBatchSize = maxBatch
	}
	if f.Changed("search-transform") {
		cfg.SearchTransform = searchTf
	}
	if f.Changed("save-frames") {
		cfg.SaveFrames = saveFrames
	}
	if f.Changed("seed") {
		cfg.Seed = seed
	}

	if cfg.ImagePath == "" {
		return nil, fmt.Errorf("--image is required (or set image: in the config file)")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runInversion(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	slog.Info("Starting inversion",
		"image", cfg.ImagePath, "optimizer", optimizer,
		"seeds", cfg.NumSeeds, "meta_steps", cfg.MetaSteps)

	rng := rand.New(rand.NewSource(cfg.Seed))
	gen := render.NewBlob(imageSize, imageSize, blobs)

	target, err := imageio.Read(cfg.ImagePath, imageSize)
	if err != nil {
		return err
	}
	var weight *tensor.Tensor
	if cfg.MaskPath != "" {
		weight, err = imageio.ReadMask(cfg.MaskPath, imageSize, 0.05)
		if err != nil {
			return err
		}
	}
	slog.Info("Loaded target", "size", imageSize, "masked", weight != nil)

	// The latent is searched derivative-free except in pure gradient
	// mode, where every seed descends from its own sampled start.
	m := variable.NewManager()
	zGradFree := optimizer != "gradient"
	if err := m.Register(variable.Descriptor{
		Name:         "z",
		Shape:        []int{gen.ZDim()},
		Role:         variable.Input,
		GradFree:     zGradFree,
		RequiresGrad: !zGradFree,
		LearningRate: cfg.LearningRate,
		Distribution: dist.NewTruncatedNormalModulo(1.0, cfg.Truncate),
		Hook:         variable.Clamp(cfg.Truncate),
	}); err != nil {
		return err
	}
	if err := m.Register(variable.Descriptor{
		Name:         "c",
		Shape:        []int{gen.ClassDim()},
		Role:         variable.Input,
		LearningRate: cfg.LearningRate,
		RequiresGrad: true,
	}); err != nil {
		return err
	}
	if err := m.Register(variable.Descriptor{
		Name:    "target",
		Shape:   target.Shape,
		Role:    variable.Output,
		Default: target,
	}); err != nil {
		return err
	}
	if weight != nil {
		if err := m.Register(variable.Descriptor{
			Name:    "weight",
			Shape:   weight.Shape,
			Role:    variable.Output,
			Default: weight,
		}); err != nil {
			return err
		}
	}

	eval := &opt.Evaluator{Gen: gen, Loss: loss.Projection()}

	if cfg.SearchTransform {
		tf := transform.Default()
		var init []float64
		if weight != nil {
			init = transform.PreAlign(weight)
		}
		scfg := transform.DefaultSearchConfig()
		scfg.MaxBatchSize = cfg.MaxBatchSize
		bestT, _, err := transform.Search(gen, loss.Projection(), tf, m.Snapshot(), init, scfg, rng)
		if err != nil {
			return fmt.Errorf("transform search: %w", err)
		}
		slog.Info("Transform search complete", "params", bestT)

		// The found transform stays fixed during the main run.
		def, err := tensor.FromSlice(bestT, len(bestT))
		if err != nil {
			return err
		}
		if err := m.Register(variable.Descriptor{
			Name:    "t",
			Shape:   []int{len(bestT)},
			Role:    variable.Input,
			Default: def,
			Frozen:  true,
		}); err != nil {
			return err
		}
		eval.Transform = tf
		eval.TransformVars = []string{"t"}
	}

	sched := opt.Scheduler{MaxBatchSize: cfg.MaxBatchSize}
	start := time.Now()
	var res *opt.Result

	switch optimizer {
	case "basincma":
		engine := &opt.BasinCMA{
			Vars: m, Eval: eval, Sched: sched,
			NumSeeds:          cfg.NumSeeds,
			PopPerSeed:        cfg.PopPerSeed,
			MetaSteps:         cfg.MetaSteps,
			GradSteps:         cfg.GradSteps,
			FinetuneGradSteps: cfg.FinetuneGradSteps,
			RNG:               rng,
			Log:               true,
		}
		res, err = engine.Optimize()
	case "gradient":
		engine := &opt.Gradient{
			Vars: m, Eval: eval, Sched: sched,
			NumSeeds: cfg.NumSeeds,
			Steps:    cfg.FinetuneGradSteps,
			RNG:      rng,
			Log:      true,
		}
		res, err = engine.Optimize()
	case "mayfly":
		engine := &opt.Mayfly{
			Vars: m, Eval: eval, Sched: sched,
			MaxIters: cfg.MetaSteps,
			PopSize:  cfg.PopPerSeed,
			Seed:     cfg.Seed,
			Bound:    cfg.Truncate,
		}
		res, err = engine.Optimize()
	default:
		return fmt.Errorf("unknown optimizer: %s", optimizer)
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	bestSeed := 0
	for s, c := range res.Costs {
		if c < res.Costs[bestSeed] {
			bestSeed = s
		}
	}

	st, err := store.NewFSStore(cfg.OutDir)
	if err != nil {
		return err
	}
	runID := store.NewRunID()

	vars := make(map[string][][]float64, len(m.InputNames()))
	for _, name := range m.InputNames() {
		rows := make([][]float64, len(res.Best))
		for s, c := range res.Best {
			rows[s] = append([]float64{}, c.Get(name).Data...)
		}
		vars[name] = rows
	}
	result := &store.RunResult{
		RunID:        runID,
		Variables:    vars,
		BestCosts:    res.Costs,
		InitialCosts: res.InitialCosts,
		Timestamp:    time.Now(),
		Settings: store.RunSettings{
			ImagePath:         cfg.ImagePath,
			MaskPath:          cfg.MaskPath,
			ClassLabel:        cfg.ClassLabel,
			LearningRate:      cfg.LearningRate,
			Truncate:          cfg.Truncate,
			NumSeeds:          len(res.Costs),
			PopPerSeed:        cfg.PopPerSeed,
			MetaSteps:         cfg.MetaSteps,
			GradSteps:         cfg.GradSteps,
			FinetuneGradSteps: cfg.FinetuneGradSteps,
			MaxBatchSize:      cfg.MaxBatchSize,
			Seed:              cfg.Seed,
		},
	}
	if err := st.SaveResult(result); err != nil {
		return err
	}

	if len(res.History) > 0 {
		tw, err := store.NewTraceWriter(cfg.OutDir, runID)
		if err != nil {
			return err
		}
		for _, h := range res.History {
			entry := store.TraceEntry{
				MetaStep:  h.MetaStep,
				Phase:     h.Phase,
				Costs:     h.Costs,
				Timestamp: time.Now(),
			}
			if err := tw.Write(entry); err != nil {
				tw.Close()
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return err
		}
	}

	bestPath := filepath.Join(st.RunDir(runID), "best.png")
	if err := imageio.Save(bestPath, res.Outputs[bestSeed]); err != nil {
		return err
	}
	if cfg.SaveFrames {
		for i, frame := range res.Frames {
			path := filepath.Join(st.RunDir(runID), fmt.Sprintf("frame_%03d.png", i))
			if err := imageio.Save(path, frame[bestSeed]); err != nil {
				return err
			}
		}
	}

	initial := res.Costs[bestSeed]
	if len(res.InitialCosts) > bestSeed {
		initial = res.InitialCosts[bestSeed]
	}
	slog.Info("Inversion complete",
		"elapsed", elapsed,
		"run_id", runID,
		"best_seed", bestSeed,
		"initial_cost", initial,
		"final_cost", res.Costs[bestSeed],
	)

	fmt.Printf("Wrote %s (run %s, cost: %.4f -> %.4f)\n", bestPath, runID, initial, res.Costs[bestSeed])
	return nil
}
