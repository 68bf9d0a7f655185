package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/pipeline"
)

const (
	claimWait        = 5 * time.Second
	reclaimInterval  = time.Minute
	defaultJobExpiry = 30 * time.Minute
)

// Ingestor runs one descriptor through the ingestion workflow.
// Satisfied by *pipeline.Pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, desc fetch.SourceDescriptor) (*pipeline.Report, error)
}

// Worker claims jobs one at a time and runs them through the pipeline.
// Scaling is horizontal: more worker processes, never per-process job
// parallelism.
type Worker struct {
	id         string
	queue      *Queue
	ingestor   Ingestor
	gate       func(ctx context.Context) error
	jobTimeout time.Duration
	logger     *slog.Logger
}

// NewWorker creates a worker. gate is the validation check run before the
// claim loop starts; a gate failure aborts startup.
func NewWorker(q *Queue, ingestor Ingestor, gate func(ctx context.Context) error,
	jobTimeout time.Duration, logger *slog.Logger) *Worker {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:         uuid.NewString(),
		queue:      q,
		ingestor:   ingestor,
		gate:       gate,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Run validates dependencies, then claims and executes jobs until the
// context is cancelled. A background ticker reclaims jobs abandoned by lost
// workers.
func (w *Worker) Run(ctx context.Context) error {
	if w.gate != nil {
		if err := w.gate(ctx); err != nil {
			return err
		}
	}
	w.logger.Info("worker started",
		slog.String("worker_id", w.id),
		slog.String("queue", w.queue.name))

	go w.reclaimLoop(ctx)
	go w.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		default:
		}

		job, err := w.queue.Claim(ctx, claimWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("claim failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(claimWait):
			}
			continue
		}
		if job == nil {
			continue
		}

		w.runJob(ctx, job)
	}
}

// runJob executes one claimed job under the per-job deadline and writes the
// terminal state exactly once.
func (w *Worker) runJob(ctx context.Context, job *Job) {
	w.logger.Info("job started",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Descriptor.Kind)),
		slog.String("locator", job.Descriptor.Locator),
		slog.Int("attempt", job.Attempts))

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	report, err := w.ingestor.Ingest(jobCtx, job.Descriptor)

	// A report where every source failed marks the job failed even though
	// the pipeline itself returned cleanly.
	if err == nil && report != nil && report.AllFailed() {
		err = fmt.Errorf("all sources failed: %s", report.Warnings[0].Message)
	}

	// Completion goes through a fresh short context: the job context may
	// already be expired, and the outcome still has to be recorded.
	doneCtx, doneCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer doneCancel()

	if completeErr := w.queue.Complete(doneCtx, job, report, err); completeErr != nil {
		w.logger.Error("failed to record job outcome",
			slog.String("job_id", job.ID),
			slog.String("error", completeErr.Error()))
		return
	}

	if err != nil {
		w.logger.Warn("job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("job finished",
		slog.String("job_id", job.ID),
		slog.Int("documents", report.DocumentsIngested),
		slog.Int("chunks", report.ChunksIngested),
		slog.Int("warnings", len(report.Warnings)))
}

// heartbeatLoop keeps the worker's presence key alive so preflight's
// queue_workers_present check can see it.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	beat := func() {
		if err := w.queue.Heartbeat(ctx, w.id); err != nil && ctx.Err() == nil {
			w.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
		}
	}
	beat()

	ticker := time.NewTicker(workerHeartbeatTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.ReclaimExpired(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Error("reclaim sweep failed", slog.String("error", err.Error()))
			}
			if n > 0 {
				w.logger.Info("reclaimed abandoned jobs", slog.Int("count", n))
			}
		}
	}
}
