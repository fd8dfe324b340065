package redisqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procdoc/procdoc-go/internal/core"
	"github.com/procdoc/procdoc-go/internal/domain/model"
	"github.com/procdoc/procdoc-go/internal/testutil"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	client := testutil.SetupTestRedis(t)
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("close redis client: %v", err)
		}
	})

	q, err := New(Options{
		Client:    client,
		KeyPrefix: "procdoc:test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	return q
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestQueue_Enqueue_Validation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	err := q.Enqueue(ctx, core.Task{Type: model.JobTypeProcessEvidence})
	assert.Error(t, err)

	err = q.Enqueue(ctx, core.Task{ID: uuid.NewString()})
	assert.Error(t, err)
}

func TestQueue_ConsumeFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	want := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range want {
		require.NoError(t, q.Enqueue(ctx, core.Task{
			ID:   id,
			Type: model.JobTypeProcessEvidence,
			Data: model.JobData{"evidenceId": id},
		}))
	}

	var (
		mu  sync.Mutex
		got []string
	)
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(consumeCtx, model.JobTypeProcessEvidence, func(_ context.Context, task core.Task) error {
			mu.Lock()
			got = append(got, task.ID)
			n := len(got)
			mu.Unlock()
			if n == len(want) {
				stop()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-ctx.Done():
		t.Fatal("consumer did not finish in time")
	}

	assert.Equal(t, want, got, "tasks must be delivered in enqueue order")
}

func TestQueue_Remove_CancelsQueuedTask(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancelled := uuid.NewString()
	kept := uuid.NewString()
	require.NoError(t, q.Enqueue(ctx, core.Task{ID: cancelled, Type: model.JobTypeProcessEvidence}))
	require.NoError(t, q.Enqueue(ctx, core.Task{ID: kept, Type: model.JobTypeProcessEvidence}))

	removed, err := q.Remove(ctx, model.JobTypeProcessEvidence, cancelled)
	require.NoError(t, err)
	assert.True(t, removed)

	// Removing an id that was never enqueued reports false.
	removed, err = q.Remove(ctx, model.JobTypeProcessEvidence, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, removed)

	var (
		mu  sync.Mutex
		got []string
	)
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(consumeCtx, model.JobTypeProcessEvidence, func(_ context.Context, task core.Task) error {
			mu.Lock()
			got = append(got, task.ID)
			mu.Unlock()
			stop()
			return nil
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("consumer did not finish in time")
	}

	assert.Equal(t, []string{kept}, got, "cancelled task must not be delivered")
}

func TestQueue_HistoryCapped(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("close redis client: %v", err)
		}
	})

	q, err := New(Options{
		Client:       client,
		KeyPrefix:    "procdoc:test:" + uuid.NewString() + ":",
		HistoryLimit: 5,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	const total = 12
	for range total {
		require.NoError(t, q.Enqueue(ctx, core.Task{
			ID:   uuid.NewString(),
			Type: model.JobTypeProcessEvidence,
		}))
	}

	delivered := 0
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(consumeCtx, model.JobTypeProcessEvidence, func(_ context.Context, _ core.Task) error {
			delivered++
			if delivered == total {
				stop()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("consumer did not finish in time")
	}

	n, err := q.HistoryLen(ctx, model.JobTypeProcessEvidence)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n, "history must be trimmed to the configured limit")
}
