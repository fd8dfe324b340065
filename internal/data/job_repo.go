package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/procdoc/procdoc-go/internal/data/pgxutil"
	"github.com/procdoc/procdoc-go/internal/domain/model"
)

// ownerListLimit is the fixed page size for owner listings. This is a hard
// cap, not cursor pagination; callers needing more go through a different
// interface.
const ownerListLimit = 20

// RepoConfig holds configuration options for the data repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo is the durable job store backed by Postgres. Single-row statements
// rely on the database's native atomicity; there is no in-process locking.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  type,
  status,
  data,
  result,
  error,
  process_name,
  owner_user_id,
  owner_workspace_id,
  created_at,
  updated_at
`

// Save upserts a job by id. An absent row is inserted in full; an existing
// row has its mutable fields overwritten (status, result, error, processName,
// ownership, updatedAt). The job is returned as given, not re-read; status
// enum policy lives in the dispatcher, not here.
func (r *JobRepo) Save(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("job id is required")
	}

	now := r.timeProvider.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, result, err := marshalJobPayloads(job)
	if err != nil {
		return err
	}

	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, execErr := conn.Exec(ctx, `
			INSERT INTO jobs (id, type, status, data, result, error, process_name, owner_user_id, owner_workspace_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
			  status = EXCLUDED.status,
			  result = EXCLUDED.result,
			  error = EXCLUDED.error,
			  process_name = EXCLUDED.process_name,
			  owner_user_id = EXCLUDED.owner_user_id,
			  owner_workspace_id = EXCLUDED.owner_workspace_id,
			  updated_at = EXCLUDED.updated_at
		`,
			job.ID,
			job.Type,
			job.Status,
			data,
			result,
			job.Error,
			job.ProcessName,
			job.OwnerUserID,
			job.OwnerWorkspaceID,
			job.CreatedAt,
			job.UpdatedAt,
		)
		if execErr != nil {
			return fmt.Errorf("save job: %w", execErr)
		}
		return nil
	})
}

func marshalJobPayloads(job *model.Job) ([]byte, []byte, error) {
	data := []byte(`{}`)
	if job.Data != nil {
		var err error
		data, err = json.Marshal(job.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal job data: %w", err)
		}
	}

	var result []byte
	if job.Result != nil {
		var err error
		result, err = json.Marshal(job.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal job result: %w", err)
		}
	}
	return data, result, nil
}

// Get retrieves a job by its id, or ErrJobNotFound.
func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		job, cerr = collectJobFromRows(rows)
		return cerr
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Delete removes a job by id. Deleting a missing id is not an error; the
// returned bool reports whether a row was actually removed.
func (r *JobRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ClaimPending atomically transitions a job from pending to processing and
// returns the claimed row. A row that is missing or already past pending
// yields ErrJobNotClaimable, which makes broker redelivery against a
// terminal job a detectable no-op instead of a silent overwrite.
func (r *JobRepo) ClaimPending(ctx context.Context, id string) (*model.Job, error) {
	now := r.timeProvider.Now().UTC()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			UPDATE jobs
			SET status = $2, updated_at = $3
			WHERE id = $1 AND status = $4
			RETURNING `+jobColumns,
			id, model.JobStatusProcessing, now, model.JobStatusPending)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		job, cerr = collectJobFromRows(rows)
		return cerr
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// UpdateProcessName overwrites only the process name, mirroring it into
// data.processName when the payload already carries that key. It never
// touches status, result, or error; this keeps renames from clobbering a
// concurrent worker write and vice versa.
func (r *JobRepo) UpdateProcessName(ctx context.Context, id, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, errors.New("process name is required")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET process_name = $2,
		    data = CASE WHEN data ? 'processName'
		                THEN jsonb_set(data, '{processName}', to_jsonb($2::text))
		                ELSE data END,
		    updated_at = $3
		WHERE id = $1
	`, id, name, now)
	if err != nil {
		return false, fmt.Errorf("update process name: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update process name rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListByOwner returns the owner's jobs newest-first, capped at ownerListLimit.
func (r *JobRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Job, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, ownerListLimit)
}

// ListByOwnerAndWorkspace returns the owner's jobs within a workspace,
// newest-first, capped at ownerListLimit.
func (r *JobRepo) ListByOwnerAndWorkspace(
	ctx context.Context,
	userID, workspaceID string,
) ([]*model.Job, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE owner_user_id = $1 AND owner_workspace_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, workspaceID, ownerListLimit)
}

// ListStuckPending returns pending jobs whose last write is older than
// olderThan, oldest-first. A pending row past this age with no broker task is
// the dual-write gap the sweep reconciles.
func (r *JobRepo) ListStuckPending(
	ctx context.Context,
	olderThan time.Duration,
	limit int,
) ([]*model.Job, error) {
	if limit <= 0 {
		limit = ownerListLimit
	}
	cutoff := r.timeProvider.Now().Add(-olderThan).UTC()
	return r.list(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, model.JobStatusPending, cutoff, limit)
}

func (r *JobRepo) list(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			job, serr := scanJobFromRow(rows)
			if serr != nil {
				return serr
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var (
		data, result                                   []byte
		errMsg, processName, ownerUser, ownerWorkspace sql.NullString
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&data,
		&result,
		&errMsg,
		&processName,
		&ownerUser,
		&ownerWorkspace,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	// The store persists status as text; validate on read so an unknown value
	// surfaces as a data-integrity error instead of flowing downstream.
	if !job.Status.Valid() {
		return nil, fmt.Errorf("job %s has unrecognized status %q", job.ID, job.Status)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &job.Data); err != nil {
			return nil, fmt.Errorf("unmarshal job data: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
	}

	job.Error = cloneNullableString(errMsg)
	job.ProcessName = cloneNullableString(processName)
	job.OwnerUserID = cloneNullableString(ownerUser)
	job.OwnerWorkspaceID = cloneNullableString(ownerWorkspace)
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
