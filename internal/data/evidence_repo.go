package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/procdoc/procdoc-go/internal/data/pgxutil"
	"github.com/procdoc/procdoc-go/internal/domain/model"
)

// FileRemover unlinks a stored file by path. Defaults to os.Remove; tests
// inject a fake to observe unlink behavior without touching the filesystem.
type FileRemover func(path string) error

// EvidenceRepo persists uploaded-file metadata. The status column mirrors
// the outcome of the job processing the file and is written one-way from the
// dispatcher's completion and failure paths.
type EvidenceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
	removeFile   FileRemover
}

// NewEvidenceRepo creates a new EvidenceRepo with the given database connection and configuration.
func NewEvidenceRepo(db *sql.DB, cfg RepoConfig) *EvidenceRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &EvidenceRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
		removeFile:   os.Remove,
	}
}

// SetFileRemover overrides the unlink function. Intended for tests.
func (r *EvidenceRepo) SetFileRemover(fn FileRemover) {
	if fn != nil {
		r.removeFile = fn
	}
}

const evidenceColumns = `
  id,
  filename,
  original_name,
  path,
  mime_type,
  size,
  status,
  owner_user_id,
  owner_workspace_id,
  created_at,
  updated_at
`

// Save upserts an evidence record by id. The storage filename is unique
// across rows; a collision with a different id surfaces as ErrEvidenceConflict.
func (r *EvidenceRepo) Save(ctx context.Context, ev *model.Evidence) error {
	if ev == nil {
		return errors.New("evidence is required")
	}
	if strings.TrimSpace(ev.ID) == "" {
		return errors.New("evidence id is required")
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	now := r.timeProvider.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	if ev.Status == "" {
		ev.Status = model.EvidenceStatusPending
	}

	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, execErr := conn.Exec(ctx, `
			INSERT INTO evidence (id, filename, original_name, path, mime_type, size, status, owner_user_id, owner_workspace_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
			  original_name = EXCLUDED.original_name,
			  status = EXCLUDED.status,
			  owner_user_id = EXCLUDED.owner_user_id,
			  owner_workspace_id = EXCLUDED.owner_workspace_id,
			  updated_at = EXCLUDED.updated_at
		`,
			ev.ID,
			ev.Filename,
			ev.OriginalName,
			ev.Path,
			ev.MimeType,
			ev.Size,
			ev.Status,
			ev.OwnerUserID,
			ev.OwnerWorkspaceID,
			ev.CreatedAt,
			ev.UpdatedAt,
		)
		return execErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEvidenceConflict
		}
		return fmt.Errorf("save evidence: %w", err)
	}
	return nil
}

// Get retrieves an evidence record by its id, or ErrEvidenceNotFound.
func (r *EvidenceRepo) Get(ctx context.Context, id string) (*model.Evidence, error) {
	var ev *model.Evidence
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+evidenceColumns+`
			FROM evidence
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		if !rows.Next() {
			if rerr := rows.Err(); rerr != nil {
				return rerr
			}
			return pgx.ErrNoRows
		}
		var serr error
		ev, serr = scanEvidenceFromRow(rows)
		if serr != nil {
			return serr
		}
		return rows.Err()
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEvidenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	return ev, nil
}

// UpdateStatus sets the mirrored status column. A missing row reports false,
// not an error: the dispatcher treats already-deleted evidence as a no-op.
func (r *EvidenceRepo) UpdateStatus(ctx context.Context, id, status string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE evidence
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, status, now)
	if err != nil {
		return false, fmt.Errorf("update evidence status: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update evidence status rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete removes an evidence row and attempts to unlink its backing file.
// The row is removed regardless of unlink outcome; a file that is already
// gone is tolerated, any other unlink failure is logged and swallowed.
func (r *EvidenceRepo) Delete(ctx context.Context, id string) (bool, error) {
	var path sql.NullString
	err := r.DB.QueryRowContext(ctx, `
		DELETE FROM evidence
		WHERE id = $1
		RETURNING path
	`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete evidence: %w", err)
	}

	if path.Valid && path.String != "" {
		if rmErr := r.removeFile(path.String); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			if r.logger != nil {
				r.logger.WarnContext(ctx, "unlink evidence file failed",
					"evidence_id", id,
					"path", path.String,
					"error", rmErr,
				)
			}
		}
	}
	return true, nil
}

// ListByOwner returns the owner's evidence newest-first, capped at ownerListLimit.
func (r *EvidenceRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Evidence, error) {
	var out []*model.Evidence
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+evidenceColumns+`
			FROM evidence
			WHERE owner_user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, userID, ownerListLimit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			ev, serr := scanEvidenceFromRow(rows)
			if serr != nil {
				return serr
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	return out, nil
}

func scanEvidenceFromRow(scanner jobRowScanner) (*model.Evidence, error) {
	ev := &model.Evidence{}
	var mimeType, ownerUser, ownerWorkspace sql.NullString

	if err := scanner.Scan(
		&ev.ID,
		&ev.Filename,
		&ev.OriginalName,
		&ev.Path,
		&mimeType,
		&ev.Size,
		&ev.Status,
		&ownerUser,
		&ownerWorkspace,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if mimeType.Valid {
		ev.MimeType = mimeType.String
	}
	ev.OwnerUserID = cloneNullableString(ownerUser)
	ev.OwnerWorkspaceID = cloneNullableString(ownerWorkspace)
	return ev, nil
}
