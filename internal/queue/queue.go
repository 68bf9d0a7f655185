// Package queue is a Redis-backed durable job queue for ingestion work.
//
// Layout per logical queue <name>:
//
//	queue:<name>:pending     list of job ids, LPUSH on enqueue
//	queue:<name>:processing  list of claimed job ids
//	queue:<name>:job:<id>    JSON job record
//	queue:<name>:claim:<id>  claim timestamp for visibility-timeout reclaim
//
// Claims are atomic (BRPOPLPUSH pending -> processing). Delivery is
// at-least-once; content-hash deduplication downstream absorbs reruns.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/pipeline"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// terminal reports whether a status admits no further transitions.
func (s Status) terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Job is one unit of ingestion work.
type Job struct {
	ID         string                 `json:"id"`
	Descriptor fetch.SourceDescriptor `json:"descriptor"`
	Status     Status                 `json:"status"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	Result     *pipeline.Report       `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Attempts   int                    `json:"attempts"`
}

// Stats is queue depth introspection.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

// Queue is a named logical queue on one Redis connection.
type Queue struct {
	client            *redis.Client
	name              string
	depthCeiling      int64
	visibilityTimeout time.Duration
	logger            *slog.Logger
}

// Options configures New. Zero values take the documented defaults.
type Options struct {
	URL               string
	Name              string
	DepthCeiling      int
	VisibilityTimeout time.Duration
	Logger            *slog.Logger
}

// New connects to Redis and returns a queue handle. The connection is not
// probed here; Ping and the validation gate cover reachability.
func New(opts Options) (*Queue, error) {
	if opts.Name == "" {
		opts.Name = "ingest"
	}
	if opts.DepthCeiling <= 0 {
		opts.DepthCeiling = 10000
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeConfigInvalid, err).
			WithDetail("setting", "queue.url")
	}

	return &Queue{
		client:            redis.NewClient(redisOpts),
		name:              opts.Name,
		depthCeiling:      int64(opts.DepthCeiling),
		visibilityTimeout: opts.VisibilityTimeout,
		logger:            opts.Logger,
	}, nil
}

func (q *Queue) pendingKey() string    { return "queue:" + q.name + ":pending" }
func (q *Queue) processingKey() string { return "queue:" + q.name + ":processing" }
func (q *Queue) jobKey(id string) string {
	return "queue:" + q.name + ":job:" + id
}
func (q *Queue) claimKey(id string) string {
	return "queue:" + q.name + ":claim:" + id
}

// Enqueue stores a job record and pushes its id onto the pending list.
// Returns queue_full when depth is at the ceiling; that error is retryable
// and distinguishable from connectivity failures.
func (q *Queue) Enqueue(ctx context.Context, desc fetch.SourceDescriptor) (*Job, error) {
	depth, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return nil, q.wrapRedis(err)
	}
	if depth >= q.depthCeiling {
		return nil, kberr.Newf(kberr.CodeQueueFull,
			"queue %s is at its depth ceiling (%d jobs pending)", q.name, depth).
			WithSuggestion("add workers or retry later")
	}

	job := &Job{
		ID:         uuid.NewString(),
		Descriptor: desc,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := q.client.LPush(ctx, q.pendingKey(), job.ID).Err(); err != nil {
		return nil, q.wrapRedis(err)
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(desc.Kind)),
		slog.String("locator", desc.Locator))
	return job, nil
}

// Claim blocks up to wait for a job, atomically moving its id from pending
// to processing and marking it running. Returns (nil, nil) when the wait
// expires with nothing to do.
func (q *Queue) Claim(ctx context.Context, wait time.Duration) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, q.wrapRedis(err)
	}

	now := time.Now().UTC()
	if err := q.client.Set(ctx, q.claimKey(id), now.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return nil, q.wrapRedis(err)
	}

	job, err := q.Inspect(ctx, id)
	if err != nil {
		return nil, err
	}

	job.Status = StatusRunning
	job.StartedAt = &now
	job.Attempts++
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete writes the terminal state for a claimed job and removes it from
// the processing list. Result and error are mutually exclusive.
func (q *Queue) Complete(ctx context.Context, job *Job, result *pipeline.Report, jobErr error) error {
	current, err := q.Inspect(ctx, job.ID)
	if err != nil {
		return err
	}
	// Terminal states are immutable; a reclaimed duplicate run must not
	// overwrite the first outcome.
	if current.Status.terminal() {
		q.logger.Warn("job already terminal, dropping duplicate completion",
			slog.String("job_id", job.ID),
			slog.String("status", string(current.Status)))
		return q.release(ctx, job.ID)
	}

	now := time.Now().UTC()
	job.FinishedAt = &now
	if jobErr != nil {
		job.Status = StatusFailed
		job.Error = jobErr.Error()
		job.Result = nil
	} else {
		job.Status = StatusFinished
		job.Result = result
		job.Error = ""
	}

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.release(ctx, job.ID)
}

// release removes a job from the processing list and clears its claim.
func (q *Queue) release(ctx context.Context, id string) error {
	if err := q.client.LRem(ctx, q.processingKey(), 0, id).Err(); err != nil {
		return q.wrapRedis(err)
	}
	if err := q.client.Del(ctx, q.claimKey(id)).Err(); err != nil {
		return q.wrapRedis(err)
	}
	return nil
}

// ReclaimExpired moves jobs whose claim has outlived the visibility timeout
// back to pending. The prior run is treated as abandoned; the job re-enters
// queued and will be claimed again.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, q.wrapRedis(err)
	}

	reclaimed := 0
	for _, id := range ids {
		claimedAt, err := q.client.Get(ctx, q.claimKey(id)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return reclaimed, q.wrapRedis(err)
		}

		expired := errors.Is(err, redis.Nil)
		if !expired {
			ts, parseErr := time.Parse(time.RFC3339Nano, claimedAt)
			expired = parseErr != nil || time.Since(ts) > q.visibilityTimeout
		}
		if !expired {
			continue
		}

		job, err := q.Inspect(ctx, id)
		if err != nil {
			if kberr.KindOf(err) == kberr.KindNotFound {
				// Record vanished; drop the orphaned id.
				_ = q.release(ctx, id)
				continue
			}
			return reclaimed, err
		}
		if job.Status.terminal() {
			_ = q.release(ctx, id)
			continue
		}

		job.Status = StatusQueued
		job.StartedAt = nil
		if err := q.saveJob(ctx, job); err != nil {
			return reclaimed, err
		}
		if err := q.release(ctx, id); err != nil {
			return reclaimed, err
		}
		if err := q.client.LPush(ctx, q.pendingKey(), id).Err(); err != nil {
			return reclaimed, q.wrapRedis(err)
		}

		reclaimed++
		q.logger.Warn("job reclaimed after visibility timeout",
			slog.String("job_id", id),
			slog.Int("attempts", job.Attempts))
	}

	return reclaimed, nil
}

// Inspect fetches one job record.
func (q *Queue) Inspect(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kberr.Newf(kberr.CodeNotFound, "job %s not found", id)
		}
		return nil, q.wrapRedis(err)
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, kberr.Wrap(kberr.CodeInternal, err)
	}
	return &job, nil
}

// Stats reports pending and processing depths.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pending, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return nil, q.wrapRedis(err)
	}
	processing, err := q.client.LLen(ctx, q.processingKey()).Result()
	if err != nil {
		return nil, q.wrapRedis(err)
	}
	return &Stats{Pending: pending, Processing: processing}, nil
}

// workerHeartbeatTTL bounds how long a dead worker still counts as present.
const workerHeartbeatTTL = 30 * time.Second

// Heartbeat marks a worker as alive on this queue. Workers call it
// periodically; the key expires on its own when the worker dies.
func (q *Queue) Heartbeat(ctx context.Context, workerID string) error {
	key := "queue:" + q.name + ":worker:" + workerID
	if err := q.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), workerHeartbeatTTL).Err(); err != nil {
		return q.wrapRedis(err)
	}
	return nil
}

// WorkerCount reports how many workers currently hold a live heartbeat.
func (q *Queue) WorkerCount(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	pattern := "queue:" + q.name + ":worker:*"
	for {
		keys, next, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, q.wrapRedis(err)
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

// Ping verifies Redis connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return q.wrapRedis(err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return kberr.Wrap(kberr.CodeInternal, err)
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), data, 0).Err(); err != nil {
		return q.wrapRedis(err)
	}
	return nil
}

func (q *Queue) wrapRedis(err error) error {
	return kberr.Wrap(kberr.CodeQueueUnavailable, err).
		WithDetail("queue", q.name).
		WithSuggestion("check that redis is running and queue.url is correct")
}
