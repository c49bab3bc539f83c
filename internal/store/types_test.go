package store

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCheckpoint_JSONSerialization(t *testing.T) {
	original := &Checkpoint{
		JobID:       "test-job-123",
		BestParams:  []float64{0.1, 0.2, 0.3, 0.01, 0.02, 0.03},
		BestCost:    0.0234,
		InitialCost: 0.5621,
		Iteration:   12,
		Timestamp:   time.Date(2025, 10, 23, 10, 30, 0, 0, time.UTC),
		Config: JobConfig{
			Kind:       KindRegister,
			FixedPath:  "fixed.nii",
			MovingPath: "moving.nii",
			Metric:     "MI",
			Sigmas:     []float64{4, 2, 0},
			Seed:       42,
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal checkpoint: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshaled JSON is empty")
	}

	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal checkpoint: %v", err)
	}

	if restored.JobID != original.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", original.JobID, restored.JobID)
	}
	if restored.BestCost != original.BestCost {
		t.Errorf("BestCost mismatch: expected %f, got %f", original.BestCost, restored.BestCost)
	}
	if restored.InitialCost != original.InitialCost {
		t.Errorf("InitialCost mismatch: expected %f, got %f", original.InitialCost, restored.InitialCost)
	}
	if restored.Iteration != original.Iteration {
		t.Errorf("Iteration mismatch: expected %d, got %d", original.Iteration, restored.Iteration)
	}
	if !restored.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp mismatch: expected %v, got %v", original.Timestamp, restored.Timestamp)
	}
	if len(restored.BestParams) != len(original.BestParams) {
		t.Fatalf("BestParams length mismatch: expected %d, got %d", len(original.BestParams), len(restored.BestParams))
	}
	for i := range original.BestParams {
		if restored.BestParams[i] != original.BestParams[i] {
			t.Errorf("BestParams[%d] mismatch: expected %f, got %f", i, original.BestParams[i], restored.BestParams[i])
		}
	}
	if restored.Config.FixedPath != original.Config.FixedPath {
		t.Errorf("Config.FixedPath mismatch: expected %s, got %s", original.Config.FixedPath, restored.Config.FixedPath)
	}
	if restored.Config.Metric != original.Config.Metric {
		t.Errorf("Config.Metric mismatch: expected %s, got %s", original.Config.Metric, restored.Config.Metric)
	}
	if restored.Config.Kind != original.Config.Kind {
		t.Errorf("Config.Kind mismatch: expected %s, got %s", original.Config.Kind, restored.Config.Kind)
	}
}

func TestCheckpoint_JSONIndented(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:       "test-job",
		BestParams:  []float64{1.0, 2.0, 3.0, 0.5, 0.5, 0.5},
		BestCost:    0.1,
		InitialCost: 0.5,
		Iteration:   100,
		Timestamp:   time.Now(),
		Config: JobConfig{
			Kind:       KindRegister,
			FixedPath:  "fixed.nii",
			MovingPath: "moving.nii",
			Metric:     "COR",
		},
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal with indent: %v", err)
	}

	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal indented JSON: %v", err)
	}

	if restored.JobID != checkpoint.JobID {
		t.Errorf("JobID mismatch after indented serialization")
	}
}

func validRegisterCheckpoint() *Checkpoint {
	return &Checkpoint{
		JobID:       "valid-job",
		BestParams:  []float64{0, 0, 0, 0, 0, 0},
		BestCost:    0.1,
		InitialCost: 0.5,
		Iteration:   100,
		Timestamp:   time.Now(),
		Config: JobConfig{
			Kind:       KindRegister,
			FixedPath:  "fixed.nii",
			MovingPath: "moving.nii",
			Metric:     "COR",
		},
	}
}

func TestCheckpoint_Validate_Valid(t *testing.T) {
	checkpoint := validRegisterCheckpoint()

	err := checkpoint.Validate()
	if err != nil {
		t.Errorf("Valid checkpoint should not have validation error: %v", err)
	}
}

func TestCheckpoint_Validate_ValidGICA(t *testing.T) {
	checkpoint := validRegisterCheckpoint()
	checkpoint.Config = JobConfig{
		Kind:        KindGICA,
		ImagePaths:  [][]string{{"s1.nii"}, {"s2.nii"}},
		ReorgPrefix: "./data/reorg",
		Method:      "deflation",
	}

	if err := checkpoint.Validate(); err != nil {
		t.Errorf("Valid gica checkpoint should not have validation error: %v", err)
	}
}

func TestCheckpoint_Validate_EmptyJobID(t *testing.T) {
	checkpoint := validRegisterCheckpoint()
	checkpoint.JobID = ""

	err := checkpoint.Validate()
	if err == nil {
		t.Fatal("Expected validation error for empty JobID")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Expected ValidationError, got %T", err)
	}
}

func TestCheckpoint_Validate_NegativeValues(t *testing.T) {
	testCases := []struct {
		name        string
		bestCost    float64
		initialCost float64
		iteration   int
	}{
		{"negative cost", -0.1, 0.5, 100},
		{"negative initial cost", 0.1, -0.5, 100},
		{"negative iteration", 0.1, 0.5, -10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := validRegisterCheckpoint()
			checkpoint.BestCost = tc.bestCost
			checkpoint.InitialCost = tc.initialCost
			checkpoint.Iteration = tc.iteration

			err := checkpoint.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_Validate_ZeroTimestamp(t *testing.T) {
	checkpoint := validRegisterCheckpoint()
	checkpoint.Timestamp = time.Time{}

	err := checkpoint.Validate()
	if err == nil {
		t.Fatal("Expected validation error for zero timestamp")
	}
}

func TestCheckpoint_Validate_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config JobConfig
	}{
		{"register: empty fixedPath", JobConfig{Kind: KindRegister, FixedPath: "", MovingPath: "m.nii"}},
		{"register: empty movingPath", JobConfig{Kind: KindRegister, FixedPath: "f.nii", MovingPath: ""}},
		{"gica: no image paths", JobConfig{Kind: KindGICA, ReorgPrefix: "./data/reorg"}},
		{"gica: empty reorg prefix", JobConfig{Kind: KindGICA, ImagePaths: [][]string{{"s1.nii"}}}},
		{"unknown kind", JobConfig{Kind: "bogus"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := validRegisterCheckpoint()
			checkpoint.Config = tc.config

			err := checkpoint.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_IsCompatible_Compatible(t *testing.T) {
	checkpoint := &Checkpoint{
		Config: JobConfig{Kind: KindRegister, FixedPath: "fixed.nii", MovingPath: "moving.nii", Metric: "COR"},
	}

	config := JobConfig{Kind: KindRegister, FixedPath: "fixed.nii", MovingPath: "moving.nii", Metric: "COR"}

	err := checkpoint.IsCompatible(config)
	if err != nil {
		t.Errorf("Compatible configs should not return error: %v", err)
	}
}

func TestCheckpoint_IsCompatible_DifferentFixedPath(t *testing.T) {
	checkpoint := &Checkpoint{
		Config: JobConfig{Kind: KindRegister, FixedPath: "fixed1.nii", MovingPath: "moving.nii", Metric: "COR"},
	}

	config := JobConfig{Kind: KindRegister, FixedPath: "fixed2.nii", MovingPath: "moving.nii", Metric: "COR"}

	err := checkpoint.IsCompatible(config)
	if err == nil {
		t.Fatal("Expected compatibility error for different FixedPath")
	}
	if _, ok := err.(*CompatibilityError); !ok {
		t.Errorf("Expected CompatibilityError, got %T", err)
	}
}

func TestCheckpoint_IsCompatible_DifferentKind(t *testing.T) {
	checkpoint := &Checkpoint{
		Config: JobConfig{Kind: KindRegister, FixedPath: "fixed.nii", MovingPath: "moving.nii"},
	}

	config := JobConfig{Kind: KindGICA, ReorgPrefix: "./data/reorg"}

	err := checkpoint.IsCompatible(config)
	if err == nil {
		t.Fatal("Expected compatibility error for different Kind")
	}
}

func TestCheckpoint_IsCompatible_DifferentReorgPrefix(t *testing.T) {
	checkpoint := &Checkpoint{
		Config: JobConfig{Kind: KindGICA, ReorgPrefix: "./data/a"},
	}

	config := JobConfig{Kind: KindGICA, ReorgPrefix: "./data/b"}

	err := checkpoint.IsCompatible(config)
	if err == nil {
		t.Fatal("Expected compatibility error for different ReorgPrefix")
	}
}

func TestCheckpointInfo_FromCheckpoint(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:     "test-job",
		BestCost:  0.123,
		Iteration: 500,
		Timestamp: time.Now(),
		Config:    JobConfig{Kind: KindRegister, FixedPath: "fixed.nii", MovingPath: "moving.nii"},
	}

	info := checkpoint.ToInfo()

	if info.JobID != checkpoint.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", checkpoint.JobID, info.JobID)
	}
	if info.BestCost != checkpoint.BestCost {
		t.Errorf("BestCost mismatch: expected %f, got %f", checkpoint.BestCost, info.BestCost)
	}
	if info.Iteration != checkpoint.Iteration {
		t.Errorf("Iteration mismatch: expected %d, got %d", checkpoint.Iteration, info.Iteration)
	}
	if !info.Timestamp.Equal(checkpoint.Timestamp) {
		t.Errorf("Timestamp mismatch")
	}
	if info.Kind != checkpoint.Config.Kind {
		t.Errorf("Kind mismatch: expected %s, got %s", checkpoint.Config.Kind, info.Kind)
	}
	if info.FixedPath != checkpoint.Config.FixedPath {
		t.Errorf("FixedPath mismatch: expected %s, got %s", checkpoint.Config.FixedPath, info.FixedPath)
	}
}

func TestNewCheckpoint(t *testing.T) {
	jobID := "test-job"
	bestParams := []float64{1, 2, 3, 4, 5, 6}
	bestCost := 0.123
	initialCost := 0.5
	iteration := 500
	config := JobConfig{Kind: KindRegister, FixedPath: "fixed.nii", MovingPath: "moving.nii", Metric: "COR"}

	checkpoint := NewCheckpoint(jobID, bestParams, bestCost, initialCost, iteration, config)

	if checkpoint.JobID != jobID {
		t.Errorf("JobID mismatch: expected %s, got %s", jobID, checkpoint.JobID)
	}
	if checkpoint.BestCost != bestCost {
		t.Errorf("BestCost mismatch: expected %f, got %f", bestCost, checkpoint.BestCost)
	}
	if checkpoint.Iteration != iteration {
		t.Errorf("Iteration mismatch: expected %d, got %d", iteration, checkpoint.Iteration)
	}
	if checkpoint.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if len(checkpoint.BestParams) != len(bestParams) {
		t.Errorf("BestParams length mismatch")
	}
}
