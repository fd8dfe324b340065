// Package redisqueue implements the broker port on Redis lists.
//
// Each job type gets a FIFO list of task ids plus a hash of task bodies keyed
// by id, so a still-queued task can be cancelled by id. Completed and failed
// deliveries are recorded in a capped per-type history list for diagnostics;
// the durable job store, not this history, is the source of truth.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/procdoc/procdoc-go/internal/core"
	"github.com/procdoc/procdoc-go/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

const defaultHistoryLimit = 200

// Options configures a Queue.
type Options struct {
	Client redis.UniversalClient
	Logger *slog.Logger

	// KeyPrefix namespaces all queue keys; defaults to "procdoc:queue:".
	KeyPrefix string
	// HistoryLimit caps the per-type delivery history; defaults to 200.
	HistoryLimit int64
}

// Queue is a Redis-list backed FIFO broker.
type Queue struct {
	client       redis.UniversalClient
	logger       *slog.Logger
	prefix       string
	historyLimit int64
}

// New creates a Queue from the given options.
func New(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "procdoc:queue:"
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		client:       opts.Client,
		logger:       logger.With("component", "redisqueue"),
		prefix:       prefix,
		historyLimit: limit,
	}, nil
}

func (q *Queue) listKey(t model.JobType) string    { return q.prefix + string(t) }
func (q *Queue) tasksKey(t model.JobType) string   { return q.prefix + string(t) + ":tasks" }
func (q *Queue) historyKey(t model.JobType) string { return q.prefix + string(t) + ":history" }

// Enqueue stores the task body and pushes its id onto the type's FIFO list.
func (q *Queue) Enqueue(ctx context.Context, task core.Task) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}
	if task.Type == "" {
		return errors.New("task type is required")
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.tasksKey(task.Type), task.ID, body)
	pipe.LPush(ctx, q.listKey(task.Type), task.ID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Consume blocks on the type's list and delivers tasks to fn until ctx is
// cancelled. A task whose body was removed (cancelled) is skipped. Errors
// returned by fn are recorded in the delivery history; the task is not
// redelivered.
func (q *Queue) Consume(ctx context.Context, taskType model.JobType, fn core.ConsumeFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := q.client.BRPop(ctx, 0, q.listKey(taskType)).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("brpop %s: %w", taskType, err)
		}
		if len(res) < 2 {
			continue
		}
		q.deliver(ctx, taskType, res[1], fn)
	}
}

func (q *Queue) deliver(ctx context.Context, taskType model.JobType, taskID string, fn core.ConsumeFunc) {
	body, err := q.client.HGet(ctx, q.tasksKey(taskType), taskID).Result()
	if errors.Is(err, redis.Nil) {
		// Body removed between push and pop: the task was cancelled.
		return
	}
	if err != nil {
		q.logger.ErrorContext(ctx, "load task body failed", "task_id", taskID, "error", err)
		return
	}
	if delErr := q.client.HDel(ctx, q.tasksKey(taskType), taskID).Err(); delErr != nil {
		q.logger.WarnContext(ctx, "remove task body failed", "task_id", taskID, "error", delErr)
	}

	var task core.Task
	if err = json.Unmarshal([]byte(body), &task); err != nil {
		q.logger.ErrorContext(ctx, "malformed task body", "task_id", taskID, "error", err)
		q.recordHistory(ctx, taskType, taskID, fmt.Errorf("malformed task body: %w", err))
		return
	}

	fnErr := fn(ctx, task)
	q.recordHistory(ctx, taskType, taskID, fnErr)
}

// historyEntry is a diagnostics record of one delivery attempt.
type historyEntry struct {
	TaskID     string    `json:"task_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func (q *Queue) recordHistory(ctx context.Context, taskType model.JobType, taskID string, fnErr error) {
	entry := historyEntry{
		TaskID:     taskID,
		Status:     "completed",
		FinishedAt: time.Now().UTC(),
	}
	if fnErr != nil {
		entry.Status = "failed"
		entry.Error = fnErr.Error()
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.historyKey(taskType), body)
	pipe.LTrim(ctx, q.historyKey(taskType), 0, q.historyLimit-1)
	if _, err = pipe.Exec(ctx); err != nil {
		// History is diagnostics only; losing an entry is not a failure.
		q.logger.WarnContext(ctx, "record delivery history failed", "task_id", taskID, "error", err)
	}
}

// Remove cancels a still-queued task by id. A task already delivered (or
// never enqueued) reports false.
func (q *Queue) Remove(ctx context.Context, taskType model.JobType, taskID string) (bool, error) {
	removed, err := q.client.LRem(ctx, q.listKey(taskType), 0, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("lrem task %s: %w", taskID, err)
	}
	if delErr := q.client.HDel(ctx, q.tasksKey(taskType), taskID).Err(); delErr != nil {
		return removed > 0, fmt.Errorf("hdel task %s: %w", taskID, delErr)
	}
	return removed > 0, nil
}

// HistoryLen returns the current length of the delivery history for a type.
func (q *Queue) HistoryLen(ctx context.Context, taskType model.JobType) (int64, error) {
	n, err := q.client.LLen(ctx, q.historyKey(taskType)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen history %s: %w", taskType, err)
	}
	return n, nil
}
