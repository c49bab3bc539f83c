package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/niftiio"
	"github.com/npl-go/npcore/internal/pipeline"
	"github.com/npl-go/npcore/internal/store"
)

// runJob executes a registration or group-ICA job in the background.
// If checkpointStore is not nil and the job's CheckpointInterval > 0,
// periodic checkpoints are saved.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "kind", job.Config.Kind)

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, time.Now(), progressDone)
	defer close(progressDone)

	checkpointDone := make(chan struct{})
	checkpointEnabled := checkpointStore != nil && job.Config.CheckpointInterval > 0
	if checkpointEnabled {
		go monitorCheckpoints(ctx, jm, checkpointStore, jobID, checkpointDone)
	} else {
		close(checkpointDone)
	}
	if checkpointEnabled {
		defer close(checkpointDone)
	}

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	var err error
	switch job.Config.Kind {
	case store.KindRegister:
		err = runRegistrationJob(jm, jobID, job)
	case store.KindGICA:
		err = runGroupICAJob(jm, jobID, job)
	default:
		err = fmt.Errorf("unknown job kind: %s", job.Config.Kind)
	}
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	return nil
}

func runRegistrationJob(jm *JobManager, jobID string, job *Job) error {
	fixed, err := niftiio.ReadImage(job.Config.FixedPath)
	if err != nil {
		return fmt.Errorf("failed to load fixed image: %w", err)
	}
	moving, err := niftiio.ReadImage(job.Config.MovingPath)
	if err != nil {
		return fmt.Errorf("failed to load moving image: %w", err)
	}

	metric, err := parseMetricKind(job.Config.Metric)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := pipeline.RunRegistration(fixed, moving, pipeline.RegistrationOptions{
		Metric:      metric,
		Sigmas:      job.Config.Sigmas,
		UseBSpline:  job.Config.UseBSpline,
		KnotSpacing: job.Config.KnotSpacing,
		StartParams: job.BestParams,
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	endTime := time.Now()
	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestParams = result.Params
		j.BestCost = result.Value
		j.Iterations++
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	slog.Info("Registration job completed", "job_id", jobID, "elapsed", elapsed,
		"value", result.Value, "stop_reason", result.Stop)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		BestCost:  result.Value,
		Timestamp: time.Now(),
	})
	return nil
}

func runGroupICAJob(jm *JobManager, jobID string, job *Job) error {
	cfg := job.Config
	images := make([][]*mrimage.Image, len(cfg.ImagePaths))
	for t, row := range cfg.ImagePaths {
		images[t] = make([]*mrimage.Image, len(row))
		for sIdx, p := range row {
			img, err := niftiio.ReadImage(p)
			if err != nil {
				return fmt.Errorf("failed to load image %s: %w", p, err)
			}
			images[t][sIdx] = img
		}
	}

	opts := pipeline.GroupICAOptions{
		Images:            images,
		Prefix:            cfg.ReorgPrefix,
		MaxDoubles:        cfg.MaxDoubles,
		VarianceThreshold: cfg.VarianceThreshold,
		NumComponents:     cfg.NumComponents,
		Method:            cfg.Method,
	}
	if len(cfg.MaskPaths) > 0 {
		for _, p := range cfg.MaskPaths {
			m, err := niftiio.ReadImage(p)
			if err != nil {
				return fmt.Errorf("failed to load mask %s: %w", p, err)
			}
			opts.Masks = append(opts.Masks, m.Store)
		}
	}

	start := time.Now()
	result, err := pipeline.RunGroupICA(opts)
	if err != nil {
		return err
	}
	defer result.Reorg.Close()
	elapsed := time.Since(start)

	endTime := time.Now()
	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Stage = "ica"
		j.Rank = result.Rank
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	slog.Info("Group-ICA job completed", "job_id", jobID, "elapsed", elapsed, "rank", result.Rank)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		Timestamp: time.Now(),
	})
	return nil
}

func parseMetricKind(s string) (pipeline.MetricKind, error) {
	switch s {
	case "", "COR":
		return pipeline.MetricCOR, nil
	case "MI":
		return pipeline.MetricMI, nil
	case "NMI":
		return pipeline.MetricNMI, nil
	case "VI":
		return pipeline.MetricVI, nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", s)
	}
}

// monitorProgress periodically broadcasts progress events during a job.
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:      jobID,
				State:      job.State,
				Iterations: job.Iterations,
				BestCost:   job.BestCost,
				Timestamp:  time.Now(),
			})
		}
	}
}

// markJobFailed marks a job as failed with an error message.
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled.
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during a job.
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves a checkpoint for the given job.
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if len(job.BestParams) == 0 && job.Stage == "" {
		slog.Debug("Skipping checkpoint, no progress yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestParams,
		job.BestCost,
		job.InitialCost,
		job.Iterations,
		job.Config,
	)
	checkpoint.Stage = job.Stage

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved", "job_id", jobID, "iteration", job.Iterations, "best_cost", job.BestCost)
	return nil
}
