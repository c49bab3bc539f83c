package store

import (
	"fmt"
	"time"
)

// Kind distinguishes the two job families the server can run.
type Kind string

const (
	KindRegister Kind = "register"
	KindGICA     Kind = "gica"
)

// JobConfig holds configuration for a registration or group-ICA job
// (checkpoint copy). This avoids import cycles with the server package.
type JobConfig struct {
	Kind Kind `json:"kind"`

	// Registration fields.
	FixedPath  string    `json:"fixedPath,omitempty"`
	MovingPath string    `json:"movingPath,omitempty"`
	Metric     string    `json:"metric,omitempty"` // COR, MI, NMI, VI
	Sigmas     []float64 `json:"sigmas,omitempty"`
	UseBSpline bool      `json:"useBSpline,omitempty"`
	KnotSpacing float64  `json:"knotSpacing,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`

	// Group-ICA fields.
	ImagePaths        [][]string `json:"imagePaths,omitempty"`
	MaskPaths         []string   `json:"maskPaths,omitempty"`
	ReorgPrefix       string     `json:"reorgPrefix,omitempty"`
	MaxDoubles        int        `json:"maxDoubles,omitempty"`
	VarianceThreshold float64    `json:"varianceThreshold,omitempty"`
	NumComponents     int        `json:"numComponents,omitempty"`
	Method            string     `json:"method,omitempty"` // deflation, symmetric

	Seed               int64 `json:"seed"`
	CheckpointInterval int   `json:"checkpointInterval,omitempty"` // seconds; 0 disables
}

// Checkpoint represents a saved job state that can be resumed later.
// All fields are serialized to JSON for persistence.
//
// The checkpoint saves the best result found so far (converged
// transform parameters for registration, or unmixing progress summary
// for group-ICA) but does not save optimizer-internal state (L-BFGS
// history, rSVD power-iteration state). Resuming a registration job
// re-runs the whole sigma schedule seeded with BestParams; resuming a
// group-ICA job re-runs the full pipeline, and Stage is recorded but
// not used to skip stages.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// BestParams holds the registration transform parameters (6 rigid,
	// or NumKnots B-spline coefficients); it is empty for gica jobs.
	BestParams []float64 `json:"bestParams"`

	BestCost    float64 `json:"bestCost"`
	InitialCost float64 `json:"initialCost"`
	Iteration   int     `json:"iteration"`

	// Stage records which pipeline stage this checkpoint was taken
	// after, for gica jobs ("reorg", "rsvd", "ica"); empty for
	// registration jobs.
	Stage string `json:"stage,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Config    JobConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the full
// parameter data, used for listing checkpoints efficiently.
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	BestCost  float64   `json:"bestCost"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	FixedPath string    `json:"fixedPath,omitempty"`
	ReorgPrefix string  `json:"reorgPrefix,omitempty"`
}

// NewCheckpoint creates a checkpoint from job state.
func NewCheckpoint(jobID string, bestParams []float64, bestCost, initialCost float64, iteration int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  bestParams,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Iteration:   iteration,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:       c.JobID,
		BestCost:    c.BestCost,
		Iteration:   c.Iteration,
		Timestamp:   c.Timestamp,
		Kind:        c.Config.Kind,
		FixedPath:   c.Config.FixedPath,
		ReorgPrefix: c.Config.ReorgPrefix,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if c.BestCost < 0 {
		return &ValidationError{Field: "BestCost", Reason: "cannot be negative"}
	}
	if c.InitialCost < 0 {
		return &ValidationError{Field: "InitialCost", Reason: "cannot be negative"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	switch c.Config.Kind {
	case KindRegister:
		if c.Config.FixedPath == "" {
			return &ValidationError{Field: "Config.FixedPath", Reason: "cannot be empty"}
		}
		if c.Config.MovingPath == "" {
			return &ValidationError{Field: "Config.MovingPath", Reason: "cannot be empty"}
		}
	case KindGICA:
		if len(c.Config.ImagePaths) == 0 {
			return &ValidationError{Field: "Config.ImagePaths", Reason: "cannot be empty"}
		}
		if c.Config.ReorgPrefix == "" {
			return &ValidationError{Field: "Config.ReorgPrefix", Reason: "cannot be empty"}
		}
	default:
		return &ValidationError{Field: "Config.Kind", Reason: fmt.Sprintf("unknown kind %q", c.Config.Kind)}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.Kind != config.Kind {
		return &CompatibilityError{Field: "Kind", Expected: string(c.Config.Kind), Actual: string(config.Kind)}
	}
	switch c.Config.Kind {
	case KindRegister:
		if c.Config.FixedPath != config.FixedPath {
			return &CompatibilityError{Field: "FixedPath", Expected: c.Config.FixedPath, Actual: config.FixedPath}
		}
		if c.Config.MovingPath != config.MovingPath {
			return &CompatibilityError{Field: "MovingPath", Expected: c.Config.MovingPath, Actual: config.MovingPath}
		}
		if c.Config.Metric != config.Metric {
			return &CompatibilityError{Field: "Metric", Expected: c.Config.Metric, Actual: config.Metric}
		}
	case KindGICA:
		if c.Config.ReorgPrefix != config.ReorgPrefix {
			return &CompatibilityError{Field: "ReorgPrefix", Expected: c.Config.ReorgPrefix, Actual: config.ReorgPrefix}
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
