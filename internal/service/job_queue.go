// Package service contains the job dispatcher: the single integration point
// that makes job creation and execution durable while keeping "durably
// recorded" decoupled from "currently queued for execution".
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/procdoc/procdoc-go/internal/core"
	"github.com/procdoc/procdoc-go/internal/data"
	"github.com/procdoc/procdoc-go/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers         = 1
	defaultStuckPendingAge = 5 * time.Minute
	defaultSweepBatch      = 100
)

// JobQueueOptions groups dependencies for JobQueue.
type JobQueueOptions struct {
	Jobs     core.JobStore      // Required: durable job store
	Broker   core.Broker        // Required: task delivery
	Evidence core.EvidenceStore // Optional: evidence status sync target
	Logger   *slog.Logger       // Optional: structured logger

	// Workers is the number of consumer goroutines per registered job type.
	Workers int
	// StuckPendingAge is how long a pending row may sit untouched before the
	// sweep re-enqueues it.
	StuckPendingAge time.Duration
	// SweepBatch caps how many rows one sweep pass re-enqueues.
	SweepBatch int
}

// JobQueue unifies durable job store writes with broker enqueues on the way
// in, and broker consumption with durable status updates on the way out.
//
// The state machine is strict and one-directional:
//
//	pending -> processing -> completed | failed
//
// No transition leads back to pending, none skips processing, and the two
// terminal states admit no further transitions without external re-enqueue.
type JobQueue struct {
	jobs     core.JobStore
	broker   core.Broker
	evidence core.EvidenceStore
	logger   *slog.Logger

	workers    int
	stuckAge   time.Duration
	sweepBatch int

	mu       sync.Mutex
	handlers map[model.JobType]core.HandlerFunc
}

// NewJobQueue constructs a JobQueue.
func NewJobQueue(opts JobQueueOptions) (*JobQueue, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Broker == nil {
		return nil, errors.New("broker is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	stuckAge := opts.StuckPendingAge
	if stuckAge <= 0 {
		stuckAge = defaultStuckPendingAge
	}
	sweepBatch := opts.SweepBatch
	if sweepBatch <= 0 {
		sweepBatch = defaultSweepBatch
	}

	return &JobQueue{
		jobs:       opts.Jobs,
		broker:     opts.Broker,
		evidence:   opts.Evidence,
		logger:     logger.With("component", "job_queue"),
		workers:    workers,
		stuckAge:   stuckAge,
		sweepBatch: sweepBatch,
		handlers:   make(map[model.JobType]core.HandlerFunc),
	}, nil
}

// Add durably records a new pending job and enqueues it on the broker.
//
// The durable write happens strictly before the broker enqueue: a crash
// between the two leaves a recoverable pending row rather than an orphaned
// in-flight task. When the enqueue fails after the write succeeded the caller
// sees the error while the pending row persists; the sweep reconciles it.
func (q *JobQueue) Add(
	ctx context.Context,
	jobType model.JobType,
	jobData model.JobData,
	owner model.Ownership,
) (*model.Job, error) {
	if strings.TrimSpace(string(jobType)) == "" {
		return nil, errors.New("job type is required")
	}

	payload := jobData.Clone()
	name := deriveProcessName(payload)
	if name != "" {
		// Baked in once at creation, for both the stored job and the payload
		// handed to the execution layer; never recomputed later.
		payload["processName"] = name
	}

	job := &model.Job{
		ID:               uuid.NewString(),
		Type:             jobType,
		Status:           model.JobStatusPending,
		Data:             payload,
		OwnerUserID:      owner.UserID,
		OwnerWorkspaceID: owner.WorkspaceID,
	}
	if name != "" {
		job.ProcessName = &name
	}

	if err := q.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}

	// The broker task id equals the job id so the two systems stay correlated.
	task := core.Task{ID: job.ID, Type: jobType, Data: payload}
	if err := q.broker.Enqueue(ctx, task); err != nil {
		q.logger.ErrorContext(ctx, "job recorded but enqueue failed; row stays pending until swept",
			"job_id", job.ID,
			"type", jobType,
			"error", err,
		)
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	q.logger.DebugContext(ctx, "job added", "job_id", job.ID, "type", jobType)
	return job, nil
}

// deriveProcessName picks the explicit processName from the payload, or
// falls back to originalName with the file extension stripped.
func deriveProcessName(jobData model.JobData) string {
	if name := jobData.ProcessName(); name != "" {
		return name
	}
	orig := jobData.OriginalName()
	if orig == "" {
		return ""
	}
	return strings.TrimSuffix(orig, filepath.Ext(orig))
}

// Get delegates to the durable job store.
func (q *JobQueue) Get(ctx context.Context, id string) (*model.Job, error) {
	return q.jobs.Get(ctx, id)
}

// Delete removes the durable record and best-effort cancels the broker-side
// task. The durable delete is authoritative; a failed broker removal is
// logged, not raised. Deleting an absent job succeeds.
func (q *JobQueue) Delete(ctx context.Context, id string) error {
	job, err := q.jobs.Get(ctx, id)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", id, err)
	}

	if _, err = q.jobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}

	if _, rmErr := q.broker.Remove(ctx, job.Type, id); rmErr != nil {
		q.logger.WarnContext(ctx, "broker task removal failed; durable delete already applied",
			"job_id", id,
			"error", rmErr,
		)
	}
	return nil
}

// RenameProcess overwrites only the job's process name, at any point in the
// lifecycle including mid-processing. It deliberately bypasses the
// dispatcher's re-fetch-then-write path so a rename can never touch status,
// result, or error.
func (q *JobQueue) RenameProcess(ctx context.Context, id, name string) error {
	updated, err := q.jobs.UpdateProcessName(ctx, id, name)
	if err != nil {
		return fmt.Errorf("rename job %s: %w", id, err)
	}
	if !updated {
		return data.ErrJobNotFound
	}
	return nil
}

// RegisterWorker binds a handler to a job type. Consumption starts when Run
// is called.
func (q *JobQueue) RegisterWorker(jobType model.JobType, handler core.HandlerFunc) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %s", jobType)
	}
	q.handlers[jobType] = handler
	return nil
}

// Run starts the configured number of consumer goroutines for every
// registered job type and blocks until the context is cancelled or a
// consumer fails fatally.
func (q *JobQueue) Run(ctx context.Context) error {
	q.mu.Lock()
	types := make([]model.JobType, 0, len(q.handlers))
	for t := range q.handlers {
		types = append(types, t)
	}
	q.mu.Unlock()

	if len(types) == 0 {
		return errors.New("no workers registered")
	}

	q.logger.InfoContext(ctx, "starting job consumers", "types", len(types), "workers_per_type", q.workers)

	g, ctx := errgroup.WithContext(ctx)
	for _, jobType := range types {
		for range q.workers {
			g.Go(func() error {
				return q.broker.Consume(ctx, jobType, q.processTask)
			})
		}
	}
	return g.Wait()
}

// processTask is the consume wrapper around a registered handler.
//
// The claim is the only transition into processing and happens strictly
// after broker delivery. Finalization re-fetches the row instead of writing
// on top of the claimed copy so a concurrent processName edit landing
// mid-execution survives completion.
func (q *JobQueue) processTask(ctx context.Context, task core.Task) error {
	q.mu.Lock()
	handler := q.handlers[task.Type]
	q.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("no handler for job type %s", task.Type)
	}

	job, err := q.jobs.ClaimPending(ctx, task.ID)
	if errors.Is(err, data.ErrJobNotClaimable) {
		// Redelivery against a deleted or already-terminal job: drop it.
		q.logger.InfoContext(ctx, "dropping task for unclaimable job", "job_id", task.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", task.ID, err)
	}

	jc := core.JobContext{
		ID:               job.ID,
		Data:             task.Data,
		OwnerUserID:      job.OwnerUserID,
		OwnerWorkspaceID: job.OwnerWorkspaceID,
	}

	result, handlerErr := handler(ctx, jc)
	if handlerErr != nil {
		q.finalize(ctx, task.ID, nil, handlerErr)
		// Re-raised so the broker's own failure tracking observes it. The
		// dispatcher performs no retry: a failed job stays failed unless
		// externally re-enqueued.
		return handlerErr
	}

	q.finalize(ctx, task.ID, result, nil)
	return nil
}

func (q *JobQueue) finalize(ctx context.Context, id string, result model.JobResult, handlerErr error) {
	job, err := q.jobs.Get(ctx, id)
	if err != nil {
		q.logger.ErrorContext(ctx, "reload job for finalization failed", "job_id", id, "error", err)
		return
	}

	if handlerErr != nil {
		msg := handlerErr.Error()
		job.Status = model.JobStatusFailed
		job.Error = &msg
		job.Result = nil
	} else {
		if result == nil {
			result = model.JobResult{}
		}
		job.Status = model.JobStatusCompleted
		job.Result = result
		job.Error = nil
	}

	if err = q.jobs.Save(ctx, job); err != nil {
		q.logger.ErrorContext(ctx, "persist job outcome failed",
			"job_id", id,
			"status", job.Status,
			"error", err,
		)
		return
	}

	q.logger.DebugContext(ctx, "job finalized", "job_id", id, "status", job.Status)
	q.syncEvidenceStatus(ctx, job)
}

// syncEvidenceStatus mirrors the job's terminal outcome onto the referenced
// evidence record. Runs only from the completion and failure paths; a
// missing evidence record or a payload without evidenceId is a silent no-op.
func (q *JobQueue) syncEvidenceStatus(ctx context.Context, job *model.Job) {
	if q.evidence == nil {
		return
	}
	evidenceID := job.Data.EvidenceID()
	if evidenceID == "" {
		return
	}

	status := model.EvidenceStatusCompleted
	if job.Status == model.JobStatusFailed {
		status = model.EvidenceStatusFailed
	}

	updated, err := q.evidence.UpdateStatus(ctx, evidenceID, status)
	if err != nil {
		q.logger.ErrorContext(ctx, "sync evidence status failed",
			"job_id", job.ID,
			"evidence_id", evidenceID,
			"error", err,
		)
		return
	}
	if !updated {
		q.logger.DebugContext(ctx, "evidence absent; status sync skipped",
			"job_id", job.ID,
			"evidence_id", evidenceID,
		)
	}
}

// SweepStuckPending re-enqueues pending rows that have sat untouched past
// the configured age. This is the reconciliation side of the dual-write gap:
// a durable write that succeeded while the broker enqueue failed leaves a
// pending row with no task, which this sweep repairs. Re-enqueueing a row
// whose task is still queued is safe: the second delivery finds the job
// already claimed and drops.
func (q *JobQueue) SweepStuckPending(ctx context.Context) (int, error) {
	stuck, err := q.jobs.ListStuckPending(ctx, q.stuckAge, q.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stuck pending jobs: %w", err)
	}

	requeued := 0
	for _, job := range stuck {
		task := core.Task{ID: job.ID, Type: job.Type, Data: job.Data}
		if enqErr := q.broker.Enqueue(ctx, task); enqErr != nil {
			q.logger.WarnContext(ctx, "re-enqueue stuck job failed", "job_id", job.ID, "error", enqErr)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		q.logger.InfoContext(ctx, "re-enqueued stuck pending jobs", "count", requeued)
	}
	return requeued, nil
}
