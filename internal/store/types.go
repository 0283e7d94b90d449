package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunSettings is the configuration snapshot persisted next to a run's
// results, so a stored run can be inspected and reproduced later.
type RunSettings struct {
	ImagePath    string  `json:"imagePath"`
	MaskPath     string  `json:"maskPath,omitempty"`
	ClassLabel   int     `json:"classLabel"`
	LearningRate float64 `json:"learningRate"`
	Truncate     float64 `json:"truncate"`

	NumSeeds          int `json:"numSeeds"`
	PopPerSeed        int `json:"popPerSeed"`
	MetaSteps         int `json:"metaSteps"`
	GradSteps         int `json:"gradSteps"`
	FinetuneGradSteps int `json:"finetuneGradSteps"`
	MaxBatchSize      int `json:"maxBatchSize"`

	Seed int64 `json:"seed"`
}

// RunResult is the flat on-disk record of one optimization run: the
// final variable values per seed and their costs. One file per run;
// per-step costs go to the JSONL trace instead.
type RunResult struct {
	// RunID uniquely identifies the run directory.
	RunID string `json:"runId"`

	// Variables maps variable name to per-seed flattened values.
	Variables map[string][][]float64 `json:"variables"`

	// BestCosts holds the final cost per seed, InitialCosts the cost of
	// the randomly sampled starting candidate per seed.
	BestCosts    []float64 `json:"bestCosts"`
	InitialCosts []float64 `json:"initialCosts"`

	// Timestamp records when the run finished.
	Timestamp time.Time `json:"timestamp"`

	// Settings is the configuration the run was started with.
	Settings RunSettings `json:"settings"`
}

// NewRunID returns a fresh unique run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Validate checks that the result is complete enough to persist.
func (r *RunResult) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(r.Variables) == 0 {
		return &ValidationError{Field: "Variables", Reason: "cannot be empty"}
	}
	if len(r.BestCosts) == 0 {
		return &ValidationError{Field: "BestCosts", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	for name, seeds := range r.Variables {
		if len(seeds) != len(r.BestCosts) {
			return &ValidationError{
				Field:  "Variables",
				Reason: fmt.Sprintf("variable %q has %d seeds, expected %d", name, len(seeds), len(r.BestCosts)),
			}
		}
	}
	if r.Settings.NumSeeds > 0 && r.Settings.NumSeeds != len(r.BestCosts) {
		return &ValidationError{
			Field:  "BestCosts",
			Reason: fmt.Sprintf("have %d seeds, settings declare %d", len(r.BestCosts), r.Settings.NumSeeds),
		}
	}
	return nil
}

// RunInfo is listing metadata without the full variable payload.
type RunInfo struct {
	RunID     string    `json:"runId"`
	BestCost  float64   `json:"bestCost"`
	NumSeeds  int       `json:"numSeeds"`
	Timestamp time.Time `json:"timestamp"`
	ImagePath string    `json:"imagePath"`
}

// ToInfo reduces a result to its listing metadata, reporting the best
// cost across seeds.
func (r *RunResult) ToInfo() RunInfo {
	best := r.BestCosts[0]
	for _, c := range r.BestCosts[1:] {
		if c < best {
			best = c
		}
	}
	return RunInfo{
		RunID:     r.RunID,
		BestCost:  best,
		NumSeeds:  len(r.BestCosts),
		Timestamp: r.Timestamp,
		ImagePath: r.Settings.ImagePath,
	}
}

// ValidationError represents a run-result validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
