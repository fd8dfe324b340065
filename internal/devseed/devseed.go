// Package devseed populates a development database with sample evidence and
// jobs so the worker and sweeper have material to chew on without a frontend.
package devseed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/procdoc/procdoc-go/internal/data"
	"github.com/procdoc/procdoc-go/internal/domain/model"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB       *sql.DB
	evidence *data.EvidenceRepo
	jobs     *data.JobRepo
}

// NewServices constructs the repositories used for seeding.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:       db,
		evidence: data.NewEvidenceRepo(db, data.RepoConfig{}),
		jobs:     data.NewJobRepo(db, data.RepoConfig{}),
	}
}

// Run executes the development seeding workflow against the provided DB.
// Seeding is idempotent: existing records are left alone.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := seedEvidence(ctx, svcs, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

type seedRecord struct {
	evidence model.Evidence
	owner    model.Ownership
}

func devOwner() model.Ownership {
	user := "dev-user"
	workspace := "dev-workspace"
	return model.Ownership{UserID: &user, WorkspaceID: &workspace}
}

func seedRecords() []seedRecord {
	owner := devOwner()
	samples := []struct {
		filename string
		original string
		mime     string
		size     int64
	}{
		{"seed-invoice.pdf", "invoice.pdf", "application/pdf", 52_430},
		{"seed-onboarding.docx", "employee-onboarding.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", 18_204},
		{"seed-returns.xlsx", "returns-process.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", 9_812},
	}

	records := make([]seedRecord, 0, len(samples))
	for _, s := range samples {
		records = append(records, seedRecord{
			evidence: model.Evidence{
				ID:           uuid.NewString(),
				Filename:     s.filename,
				OriginalName: s.original,
				Path:         "/var/procdoc/uploads/" + s.filename,
				MimeType:     s.mime,
				Size:         s.size,
				Status:       model.EvidenceStatusPending,
				OwnerUserID:  owner.UserID,
			},
			owner: owner,
		})
	}
	return records
}

func seedEvidence(ctx context.Context, svcs Services, logger *slog.Logger) int {
	failures := 0
	for _, rec := range seedRecords() {
		created, err := createEvidence(ctx, svcs.evidence, rec.evidence)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed evidence", "filename", rec.evidence.Filename, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "evidence already seeded"
			if created {
				msg = "seeded evidence"
			}
			logger.InfoContext(ctx, msg, "filename", rec.evidence.Filename)
		}
		if !created {
			continue
		}

		// A pending job per fresh evidence record; the sweep will pick these
		// up even though no broker task exists yet.
		job := &model.Job{
			ID:     uuid.NewString(),
			Type:   model.JobTypeProcessEvidence,
			Status: model.JobStatusPending,
			Data: model.JobData{
				"evidenceId":   rec.evidence.ID,
				"originalName": rec.evidence.OriginalName,
			},
			OwnerUserID:      rec.owner.UserID,
			OwnerWorkspaceID: rec.owner.WorkspaceID,
		}
		if err := svcs.jobs.Save(ctx, job); err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed job", "evidence_id", rec.evidence.ID, "error", err)
			}
			failures++
		}
	}
	return failures
}

// createEvidence inserts the record unless its storage filename is taken.
func createEvidence(ctx context.Context, repo *data.EvidenceRepo, ev model.Evidence) (bool, error) {
	if err := repo.Save(ctx, &ev); err != nil {
		if errors.Is(err, data.ErrEvidenceConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
