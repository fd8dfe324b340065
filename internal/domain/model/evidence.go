package model

import (
	"errors"
	"strings"
	"time"
)

// Evidence status values mirrored from the associated job's outcome.
// The column is free-form by design: it is driven by job transitions
// (job -> evidence, never the reverse) and is not a strict state machine.
const (
	EvidenceStatusPending   = "pending"
	EvidenceStatusCompleted = "completed"
	EvidenceStatusFailed    = "failed"
)

// Evidence is an uploaded file awaiting or having undergone processing.
// Evidence survives independently of any job that references it; its status
// is updated as a side effect of job completion or failure.
type Evidence struct {
	ID               string    `json:"id"                           db:"id"`
	Filename         string    `json:"filename"                     db:"filename"`
	OriginalName     string    `json:"original_name"                db:"original_name"`
	Path             string    `json:"path"                         db:"path"`
	MimeType         string    `json:"mime_type"                    db:"mime_type"`
	Size             int64     `json:"size"                         db:"size"`
	Status           string    `json:"status"                       db:"status"`
	OwnerUserID      *string   `json:"owner_user_id,omitempty"      db:"owner_user_id"`
	OwnerWorkspaceID *string   `json:"owner_workspace_id,omitempty" db:"owner_workspace_id"`
	CreatedAt        time.Time `json:"created_at"                   db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"                   db:"updated_at"`
}

// Validate checks the fields required before an evidence record can be persisted.
func (e *Evidence) Validate() error {
	if strings.TrimSpace(e.Filename) == "" {
		return errors.New("filename is required")
	}
	if strings.TrimSpace(e.OriginalName) == "" {
		return errors.New("original name is required")
	}
	if strings.TrimSpace(e.Path) == "" {
		return errors.New("path is required")
	}
	if e.Size < 0 {
		return errors.New("size must be >= 0")
	}
	return nil
}
