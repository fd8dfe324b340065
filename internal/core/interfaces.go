package core

import (
	"context"
	"time"

	"github.com/procdoc/procdoc-go/internal/domain/model"
)

// This file contains the port definitions between the dispatcher and its
// collaborators. Service implementations depend on these interfaces, not on
// concrete store or broker implementations.

// JobStore is the durable job store: the single source of truth for whether
// a job ran and what happened.
type JobStore interface {
	// Save upserts by id: inserts a full record when absent, otherwise
	// updates the mutable fields (status, result, error, processName,
	// ownership, updatedAt). Returns the job as given, not re-read.
	Save(ctx context.Context, job *model.Job) error
	// Get returns the job or ErrJobNotFound; a missing id is not a failure.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Delete removes by id and reports whether a row was actually removed.
	Delete(ctx context.Context, id string) (bool, error)
	// ClaimPending transitions pending -> processing for the given id and
	// returns the claimed job, or ErrJobNotClaimable when the row is missing
	// or no longer pending. This is the only transition into processing.
	ClaimPending(ctx context.Context, id string) (*model.Job, error)
	// UpdateProcessName overwrites only processName (and the mirrored
	// data.processName when the payload carries that key).
	UpdateProcessName(ctx context.Context, id, name string) (bool, error)
	// ListByOwner returns the owner's jobs newest-first, capped at 20 rows.
	ListByOwner(ctx context.Context, userID string) ([]*model.Job, error)
	// ListByOwnerAndWorkspace is ListByOwner further filtered by workspace.
	ListByOwnerAndWorkspace(ctx context.Context, userID, workspaceID string) ([]*model.Job, error)
	// ListStuckPending returns pending jobs untouched for longer than
	// olderThan, oldest-first, for operational reconciliation.
	ListStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Job, error)
}

// EvidenceStore persists uploaded-file metadata and the status field that
// mirrors job outcome.
type EvidenceStore interface {
	Save(ctx context.Context, ev *model.Evidence) error
	// Get returns the evidence or ErrEvidenceNotFound.
	Get(ctx context.Context, id string) (*model.Evidence, error)
	// Delete removes the row and best-effort unlinks the backing file; the
	// row is removed regardless of unlink outcome.
	Delete(ctx context.Context, id string) (bool, error)
	// UpdateStatus sets the mirrored status; a missing row reports false, not an error.
	UpdateStatus(ctx context.Context, id, status string) (bool, error)
	ListByOwner(ctx context.Context, userID string) ([]*model.Evidence, error)
}

// Task is the broker-side unit of delivery. ID equals the durable job id so
// the two systems stay correlated.
type Task struct {
	ID   string        `json:"id"`
	Type model.JobType `json:"type"`
	Data model.JobData `json:"data"`
}

// ConsumeFunc processes one delivered task. A returned error is recorded by
// the broker's own failure tracking; the broker does not redeliver.
type ConsumeFunc func(ctx context.Context, task Task) error

// Broker is the FIFO work-distribution mechanism, decoupled from durable
// storage. The dispatcher relies on no delivery guarantee beyond "eventually
// delivered at least once to some consumer".
type Broker interface {
	Enqueue(ctx context.Context, task Task) error
	// Consume blocks delivering tasks of the given type to fn until ctx is
	// cancelled. Safe to call from multiple goroutines for worker pools.
	Consume(ctx context.Context, taskType model.JobType, fn ConsumeFunc) error
	// Remove best-effort cancels a still-queued task and reports whether one
	// was removed.
	Remove(ctx context.Context, taskType model.JobType, taskID string) (bool, error)
}

// JobContext is the execution context handed to a handler, carrying the
// stored ownership fields so handlers need not re-query for authorization
// context.
type JobContext struct {
	ID               string
	Data             model.JobData
	OwnerUserID      *string
	OwnerWorkspaceID *string
}

// HandlerFunc turns a job payload into a result. On failure the returned
// error's message is recorded as the job's terminal error.
type HandlerFunc func(ctx context.Context, jc JobContext) (model.JobResult, error)
