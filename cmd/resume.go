package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/npl-go/npcore/internal/niftiio"
	"github.com/npl-go/npcore/internal/pipeline"
	"github.com/npl-go/npcore/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeServerURL string
	resumeLocalMode bool
	resumeOutputDir string
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a job from a saved checkpoint",
	Long: `Resume a registration or gica job from a saved checkpoint.

Supports two modes:
  1. Server mode (default): POST to the server's resume endpoint
  2. Local mode (--local): load the checkpoint and continue locally

Examples:
  npcore resume abc123 --server-url http://localhost:8080
  npcore resume abc123 --local --output ./results`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeServerURL, "server-url", "http://localhost:8080", "Server URL for remote resume")
	resumeCmd.Flags().BoolVar(&resumeLocalMode, "local", false, "Run resume locally instead of via server")
	resumeCmd.Flags().StringVar(&resumeOutputDir, "output", "./resumed", "Output directory for local mode")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	if resumeLocalMode {
		return runResumeLocal(jobID)
	}
	return runResumeServer(jobID)
}

// runResumeServer sends a resume request to the server.
func runResumeServer(jobID string) error {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/resume", resumeServerURL, jobID)

	slog.Info("Resuming job via server", "job_id", jobID, "url", url)

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("checkpoint not found for job %s", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var result struct {
		JobID   string  `json:"jobId"`
		State   string  `json:"state"`
		Message string  `json:"message,omitempty"`
		Cost    float64 `json:"previousCost,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Job resumed successfully\n")
	fmt.Printf("  Job ID: %s\n", result.JobID)
	fmt.Printf("  State: %s\n", result.State)
	if result.Message != "" {
		fmt.Printf("  Message: %s\n", result.Message)
	}
	fmt.Printf("\nUse 'npcore status %s' to monitor progress\n", result.JobID)

	return nil
}

// runResumeLocal loads a checkpoint and continues the job locally.
func runResumeLocal(jobID string) error {
	slog.Info("Resuming job locally", "job_id", jobID)

	checkpointStore, err := store.NewFSStore("./data")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	fmt.Printf("Loaded checkpoint:\n")
	fmt.Printf("  Job ID: %s\n", checkpoint.JobID)
	fmt.Printf("  Kind: %s\n", checkpoint.Config.Kind)
	fmt.Printf("  Best cost: %f\n", checkpoint.BestCost)
	fmt.Printf("  Checkpoint time: %s\n\n", checkpoint.Timestamp.Format(time.RFC3339))

	switch checkpoint.Config.Kind {
	case store.KindRegister:
		return resumeRegistrationLocal(jobID, checkpoint)
	case store.KindGICA:
		return fmt.Errorf("local resume not supported for gica jobs; rerun 'npcore gica' with the same --prefix, its reorg chunks are reused as-is")
	default:
		return fmt.Errorf("unknown job kind: %s", checkpoint.Config.Kind)
	}
}

func resumeRegistrationLocal(jobID string, checkpoint *store.Checkpoint) error {
	cfg := checkpoint.Config

	fixed, err := niftiio.ReadImage(cfg.FixedPath)
	if err != nil {
		return fmt.Errorf("failed to load fixed image: %w", err)
	}
	moving, err := niftiio.ReadImage(cfg.MovingPath)
	if err != nil {
		return fmt.Errorf("failed to load moving image: %w", err)
	}

	start := time.Now()
	result, err := pipeline.RunRegistration(fixed, moving, pipeline.RegistrationOptions{
		Metric:      metricKindOf(cfg.Metric),
		Sigmas:      cfg.Sigmas,
		UseBSpline:  cfg.UseBSpline,
		KnotSpacing: cfg.KnotSpacing,
		StartParams: checkpoint.BestParams,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("\nResumed registration completed in %s\n", elapsed)
	fmt.Printf("  Previous value: %f\n", checkpoint.BestCost)
	fmt.Printf("  New value: %f\n", result.Value)

	checkpointStore, err := store.NewFSStore("./data")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	updated := store.NewCheckpoint(jobID, result.Params, result.Value, checkpoint.InitialCost, checkpoint.Iteration+1, cfg)
	if err := checkpointStore.SaveCheckpoint(jobID, updated); err != nil {
		slog.Warn("Failed to update checkpoint", "error", err)
	} else {
		fmt.Printf("Checkpoint updated\n")
	}

	return nil
}
