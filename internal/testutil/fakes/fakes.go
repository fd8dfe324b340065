// Package fakes provides in-memory implementations of the core ports for
// dispatcher unit tests that need no database or broker.
package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/procdoc/procdoc-go/internal/core"
	"github.com/procdoc/procdoc-go/internal/data"
	"github.com/procdoc/procdoc-go/internal/domain/model"
)

const fakeOwnerListLimit = 20

// MemoryJobStore is an in-memory core.JobStore for dispatcher tests.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	// SaveErr, when set, is returned by the next Save call.
	SaveErr error
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*model.Job)}
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.Data = j.Data.Clone()
	if j.Result != nil {
		c.Result = make(model.JobResult, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	return &c
}

// Save upserts the job, stamping timestamps the way the SQL repo does.
func (s *MemoryJobStore) Save(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		err := s.SaveErr
		s.SaveErr = nil
		return err
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		if existing, ok := s.jobs[job.ID]; ok {
			job.CreatedAt = existing.CreatedAt
		} else {
			job.CreatedAt = now
		}
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get returns the stored job or data.ErrJobNotFound.
func (s *MemoryJobStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Delete removes the job and reports whether a row existed.
func (s *MemoryJobStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok, nil
}

// ClaimPending transitions pending -> processing or reports ErrJobNotClaimable.
func (s *MemoryJobStore) ClaimPending(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusPending {
		return nil, data.ErrJobNotClaimable
	}
	job.Status = model.JobStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	return cloneJob(job), nil
}

// UpdateProcessName overwrites only the process name and its payload mirror.
func (s *MemoryJobStore) UpdateProcessName(_ context.Context, id, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	job.ProcessName = &name
	if _, has := job.Data["processName"]; has {
		job.Data["processName"] = name
	}
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListByOwner returns the owner's jobs newest-first, capped at 20.
func (s *MemoryJobStore) ListByOwner(_ context.Context, userID string) ([]*model.Job, error) {
	return s.list(func(j *model.Job) bool {
		return j.OwnerUserID != nil && *j.OwnerUserID == userID
	}), nil
}

// ListByOwnerAndWorkspace is ListByOwner further filtered by workspace.
func (s *MemoryJobStore) ListByOwnerAndWorkspace(_ context.Context, userID, workspaceID string) ([]*model.Job, error) {
	return s.list(func(j *model.Job) bool {
		return j.OwnerUserID != nil && *j.OwnerUserID == userID &&
			j.OwnerWorkspaceID != nil && *j.OwnerWorkspaceID == workspaceID
	}), nil
}

func (s *MemoryJobStore) list(match func(*model.Job) bool) []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Job
	for _, j := range s.jobs {
		if match(j) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > fakeOwnerListLimit {
		out = out[:fakeOwnerListLimit]
	}
	return out
}

// ListStuckPending returns pending jobs untouched for longer than olderThan.
func (s *MemoryJobStore) ListStuckPending(_ context.Context, olderThan time.Duration, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var out []*model.Job
	for _, j := range s.jobs {
		if j.Status == model.JobStatusPending && j.UpdatedAt.Before(cutoff) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AgePending rewinds the UpdatedAt of a pending job so sweep tests can make
// it look stuck without sleeping.
func (s *MemoryJobStore) AgePending(id string, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.UpdatedAt = job.UpdatedAt.Add(-by)
	}
}

// MemoryEvidenceStore is an in-memory core.EvidenceStore.
type MemoryEvidenceStore struct {
	mu       sync.Mutex
	evidence map[string]*model.Evidence
}

// NewMemoryEvidenceStore creates an empty in-memory evidence store.
func NewMemoryEvidenceStore() *MemoryEvidenceStore {
	return &MemoryEvidenceStore{evidence: make(map[string]*model.Evidence)}
}

// Save upserts the evidence record.
func (s *MemoryEvidenceStore) Save(_ context.Context, ev *model.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	c := *ev
	s.evidence[ev.ID] = &c
	return nil
}

// Get returns the record or data.ErrEvidenceNotFound.
func (s *MemoryEvidenceStore) Get(_ context.Context, id string) (*model.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evidence[id]
	if !ok {
		return nil, data.ErrEvidenceNotFound
	}
	c := *ev
	return &c, nil
}

// Delete removes the record and reports whether one existed.
func (s *MemoryEvidenceStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.evidence[id]
	delete(s.evidence, id)
	return ok, nil
}

// UpdateStatus sets the mirrored status; a missing row reports false.
func (s *MemoryEvidenceStore) UpdateStatus(_ context.Context, id, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evidence[id]
	if !ok {
		return false, nil
	}
	ev.Status = status
	ev.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListByOwner returns the owner's evidence records.
func (s *MemoryEvidenceStore) ListByOwner(_ context.Context, userID string) ([]*model.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Evidence
	for _, ev := range s.evidence {
		if ev.OwnerUserID != nil && *ev.OwnerUserID == userID {
			c := *ev
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// MemoryBroker is an in-memory core.Broker recording enqueued tasks.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[model.JobType][]core.Task

	// EnqueueErr, when set, is returned by the next Enqueue call.
	EnqueueErr error
	// RemoveCalls records Remove invocations as "type/id" strings.
	RemoveCalls []string
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[model.JobType][]core.Task)}
}

// Enqueue appends the task to the per-type FIFO queue.
func (b *MemoryBroker) Enqueue(_ context.Context, task core.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EnqueueErr != nil {
		err := b.EnqueueErr
		b.EnqueueErr = nil
		return err
	}
	b.queues[task.Type] = append(b.queues[task.Type], task)
	return nil
}

// Consume delivers all currently queued tasks of the type in FIFO order, then
// blocks until the context is cancelled.
func (b *MemoryBroker) Consume(ctx context.Context, taskType model.JobType, fn core.ConsumeFunc) error {
	for {
		task, ok := b.pop(taskType)
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = fn(ctx, task)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *MemoryBroker) pop(taskType model.JobType) (core.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue := b.queues[taskType]
	if len(queue) == 0 {
		return core.Task{}, false
	}
	task := queue[0]
	b.queues[taskType] = queue[1:]
	return task, true
}

// Remove drops a still-queued task by id.
func (b *MemoryBroker) Remove(_ context.Context, taskType model.JobType, taskID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RemoveCalls = append(b.RemoveCalls, string(taskType)+"/"+taskID)

	queue := b.queues[taskType]
	for i, task := range queue {
		if task.ID == taskID {
			b.queues[taskType] = append(queue[:i:i], queue[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Queued returns the ids currently queued for the type, in delivery order.
func (b *MemoryBroker) Queued(taskType model.JobType) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.queues[taskType]))
	for _, task := range b.queues[taskType] {
		ids = append(ids, task.ID)
	}
	return ids
}

// DrainTo delivers every queued task of the type to fn, in FIFO order.
// Unlike Consume it returns once the queue is empty.
func (b *MemoryBroker) DrainTo(ctx context.Context, taskType model.JobType, fn core.ConsumeFunc) []error {
	var errs []error
	for {
		task, ok := b.pop(taskType)
		if !ok {
			return errs
		}
		if err := fn(ctx, task); err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, nil)
		}
	}
}

var _ core.JobStore = (*MemoryJobStore)(nil)
var _ core.EvidenceStore = (*MemoryEvidenceStore)(nil)
var _ core.Broker = (*MemoryBroker)(nil)
