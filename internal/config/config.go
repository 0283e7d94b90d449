// Package config loads and validates run configuration from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Run holds every knob of an inversion run. Zero values are filled from
// Default before validation, so a config file only needs to override
// what it cares about.
type Run struct {
	ImagePath string `yaml:"image" validate:"required"`
	MaskPath  string `yaml:"mask,omitempty"`
	OutDir    string `yaml:"out_dir" validate:"required"`

	ClassLabel   int     `yaml:"class_label" validate:"gte=0"`
	LearningRate float64 `yaml:"learning_rate" validate:"gt=0"`
	Truncate     float64 `yaml:"truncate" validate:"gt=0"`

	NumSeeds          int `yaml:"num_seeds" validate:"gte=1"`
	PopPerSeed        int `yaml:"pop_per_seed" validate:"gte=2"`
	MetaSteps         int `yaml:"meta_steps" validate:"gte=0"`
	GradSteps         int `yaml:"grad_steps" validate:"gte=0"`
	FinetuneGradSteps int `yaml:"finetune_grad_steps" validate:"gte=0"`
	MaxBatchSize      int `yaml:"max_batch_size" validate:"gte=1"`

	SearchTransform bool  `yaml:"search_transform"`
	SaveFrames      bool  `yaml:"save_frames"`
	Seed            int64 `yaml:"seed"`
}

// Default returns the standard run settings.
func Default() Run {
	return Run{
		OutDir:            "./results",
		LearningRate:      0.05,
		Truncate:          2.0,
		NumSeeds:          9,
		PopPerSeed:        16,
		MetaSteps:         30,
		GradSteps:         30,
		FinetuneGradSteps: 300,
		MaxBatchSize:      9,
		Seed:              42,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags.
func (r *Run) Validate() error {
	if err := validator.New().Struct(r); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
