package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestDefaultIsValidExceptImage(t *testing.T) {
	cfg := Default()
	cfg.ImagePath = "target.png"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
image: photos/dog.png
mask: photos/dog_mask.png
num_seeds: 4
meta_steps: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ImagePath != "photos/dog.png" {
		t.Errorf("image: got %q", cfg.ImagePath)
	}
	if cfg.NumSeeds != 4 || cfg.MetaSteps != 10 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.PopPerSeed != Default().PopPerSeed {
		t.Errorf("pop_per_seed default lost: %d", cfg.PopPerSeed)
	}
	if cfg.LearningRate != Default().LearningRate {
		t.Errorf("learning_rate default lost: %v", cfg.LearningRate)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing image", "num_seeds: 4\n"},
		{"zero seeds", "image: a.png\nnum_seeds: 0\n"},
		{"population of one", "image: a.png\npop_per_seed: 1\n"},
		{"negative steps", "image: a.png\nmeta_steps: -1\n"},
		{"zero learning rate", "image: a.png\nlearning_rate: 0\n"},
		{"zero batch", "image: a.png\nmax_batch_size: 0\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "image: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}
