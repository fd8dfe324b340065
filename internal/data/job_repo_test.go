package data

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procdoc/procdoc-go/internal/domain/model"
	"github.com/procdoc/procdoc-go/internal/testutil"
)

func newTestJob() *model.Job {
	return &model.Job{
		ID:     uuid.NewString(),
		Type:   model.JobTypeProcessEvidence,
		Status: model.JobStatusPending,
		Data: model.JobData{
			"evidenceId":   uuid.NewString(),
			"originalName": "invoice.pdf",
			"processName":  "invoice",
		},
	}
}

func TestJobRepo_SaveAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	owner := testutil.StringPtr("user-1")
	workspace := testutil.StringPtr("ws-1")

	job := newTestJob()
	job.ProcessName = testutil.StringPtr("invoice")
	job.OwnerUserID = owner
	job.OwnerWorkspaceID = workspace

	require.NoError(t, repo.Save(ctx, job))
	assert.False(t, job.CreatedAt.IsZero())
	assert.False(t, job.UpdatedAt.IsZero())

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobTypeProcessEvidence, got.Type)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, "invoice", got.Data.ProcessName())
	assert.Equal(t, "invoice.pdf", got.Data.OriginalName())
	require.NotNil(t, got.ProcessName)
	assert.Equal(t, "invoice", *got.ProcessName)
	assert.Equal(t, owner, got.OwnerUserID)
	assert.Equal(t, workspace, got.OwnerWorkspaceID)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Error)
}

func TestJobRepo_Get_NotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})

	_, err := repo.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobRepo_Save_UpsertKeepsOriginalData(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, repo.Save(ctx, job))

	// Re-save the claimed copy with a terminal outcome and a mutated payload.
	// Only the mutable fields may change; the stored payload stays as created.
	update := *job
	update.Status = model.JobStatusCompleted
	update.Result = model.JobResult{"artifacts": []any{}}
	update.Data = model.JobData{"tampered": true}
	require.NoError(t, repo.Save(ctx, &update))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.Result)
	assert.Equal(t, "invoice.pdf", got.Data.OriginalName())
	assert.NotContains(t, got.Data, "tampered")
}

func TestJobRepo_Delete_Idempotent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, repo.Save(ctx, job))

	removed, err := repo.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	// Second delete is a no-op, not an error.
	removed, err = repo.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobRepo_ClaimPending(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, repo.Save(ctx, job))

	claimed, err := repo.ClaimPending(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, claimed.Status)
	assert.Equal(t, job.ID, claimed.ID)

	// A second claim finds the row no longer pending.
	_, err = repo.ClaimPending(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotClaimable)
}

func TestJobRepo_ClaimPending_TerminalAndMissing(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	job := newTestJob()
	job.Status = model.JobStatusCompleted
	job.Result = model.JobResult{"artifacts": []any{}}
	require.NoError(t, repo.Save(ctx, job))

	// Redelivery against a terminal job must not overwrite its outcome.
	_, err := repo.ClaimPending(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotClaimable)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	_, err = repo.ClaimPending(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrJobNotClaimable)
}

func TestJobRepo_UpdateProcessName(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	t.Run("mirrors into payload when key present", func(t *testing.T) {
		job := newTestJob()
		require.NoError(t, repo.Save(ctx, job))

		updated, err := repo.UpdateProcessName(ctx, job.ID, "Quarterly Invoicing")
		require.NoError(t, err)
		assert.True(t, updated)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ProcessName)
		assert.Equal(t, "Quarterly Invoicing", *got.ProcessName)
		assert.Equal(t, "Quarterly Invoicing", got.Data.ProcessName())
		// Nothing else in the payload moves.
		assert.Equal(t, "invoice.pdf", got.Data.OriginalName())
		assert.Equal(t, model.JobStatusPending, got.Status)
	})

	t.Run("leaves payload alone when key absent", func(t *testing.T) {
		job := newTestJob()
		delete(job.Data, "processName")
		require.NoError(t, repo.Save(ctx, job))

		updated, err := repo.UpdateProcessName(ctx, job.ID, "Renamed")
		require.NoError(t, err)
		assert.True(t, updated)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ProcessName)
		assert.Equal(t, "Renamed", *got.ProcessName)
		assert.Empty(t, got.Data.ProcessName())
	})

	t.Run("missing row reports false", func(t *testing.T) {
		updated, err := repo.UpdateProcessName(ctx, uuid.NewString(), "Renamed")
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		_, err := repo.UpdateProcessName(ctx, uuid.NewString(), "  ")
		assert.Error(t, err)
	})
}

func TestJobRepo_ListByOwner_OrderAndCap(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	owner := testutil.StringPtr("list-owner")
	base := testutil.TestTime()

	// 25 jobs with strictly increasing creation times; only the newest 20 list.
	var newestID string
	for i := range 25 {
		job := newTestJob()
		job.OwnerUserID = owner
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Save(ctx, job))
		newestID = job.ID
	}

	// A different owner's job never shows up.
	other := newTestJob()
	other.OwnerUserID = testutil.StringPtr("someone-else")
	require.NoError(t, repo.Save(ctx, other))

	jobs, err := repo.ListByOwner(ctx, *owner)
	require.NoError(t, err)
	require.Len(t, jobs, 20)
	assert.Equal(t, newestID, jobs[0].ID)
	for i := 1; i < len(jobs); i++ {
		assert.False(t, jobs[i].CreatedAt.After(jobs[i-1].CreatedAt),
			"jobs must be ordered newest-first")
	}
}

func TestJobRepo_ListByOwnerAndWorkspace(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	owner := testutil.StringPtr("ws-owner")

	for i, ws := range []string{"ws-a", "ws-a", "ws-b"} {
		job := newTestJob()
		job.OwnerUserID = owner
		job.OwnerWorkspaceID = testutil.StringPtr(ws)
		job.CreatedAt = testutil.TestTime().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Save(ctx, job))
	}

	jobs, err := repo.ListByOwnerAndWorkspace(ctx, *owner, "ws-a")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	for _, j := range jobs {
		require.NotNil(t, j.OwnerWorkspaceID)
		assert.Equal(t, "ws-a", *j.OwnerWorkspaceID)
	}
}

func TestJobRepo_ListStuckPending(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	now := time.Now().UTC()
	clock := NewFixedTimeProvider(now.Add(-10 * time.Minute))
	repo := NewJobRepo(db, RepoConfig{TimeProvider: clock})
	ctx := context.Background()

	// Written 10 minutes in the past via the fixed clock.
	stale := newTestJob()
	require.NoError(t, repo.Save(ctx, stale))

	staleTerminal := newTestJob()
	staleTerminal.Status = model.JobStatusFailed
	staleTerminal.Error = testutil.StringPtr("boom")
	require.NoError(t, repo.Save(ctx, staleTerminal))

	// Fresh pending row written at the current time.
	clock.SetTime(now)
	fresh := newTestJob()
	require.NoError(t, repo.Save(ctx, fresh))

	jobs, err := repo.ListStuckPending(ctx, 5*time.Minute, 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stale.ID, jobs[0].ID)
	assert.Equal(t, model.JobStatusPending, jobs[0].Status)
}

func TestJobRepo_Save_Validation(t *testing.T) {
	repo := NewJobRepo(nil, RepoConfig{})
	ctx := context.Background()

	require.Error(t, repo.Save(ctx, nil))

	job := newTestJob()
	job.ID = "  "
	err := repo.Save(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job id is required")
}

func BenchmarkJobRepo_Save(b *testing.B) {
	testutil.SkipIfNoTestDB(b)
	db := testutil.SetupTestDB(b)
	defer testutil.TeardownTestDB(b, db)

	repo := NewJobRepo(db, RepoConfig{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		job := newTestJob()
		job.Data["originalName"] = fmt.Sprintf("doc-%d.pdf", i)
		if err := repo.Save(ctx, job); err != nil {
			b.Fatal(err)
		}
	}
}
