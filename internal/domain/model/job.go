// Package model defines the core data types for the procdoc job system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType identifies which registered handler processes a job.
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeProcessEvidence generates documentation artifacts from an uploaded evidence file.
	JobTypeProcessEvidence JobType = "process_evidence"

	// JobStatusPending indicates a job is durably recorded and waiting for a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker has claimed the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the handler finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the handler failed; the job stays failed unless re-enqueued externally.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is one of the recognized lifecycle states.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true for statuses with no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus so env/JSON
// parsing rejects unknown values instead of passing them through.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// JobData is the opaque handler-specific payload attached to a job.
// Well-known keys get typed accessors; everything else passes through untouched.
type JobData map[string]any

// stringField returns the value under key when it is a non-empty string.
func (d JobData) stringField(key string) string {
	if d == nil {
		return ""
	}
	if v, ok := d[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// EvidenceID returns the referenced evidence id, or "" when the payload carries none.
func (d JobData) EvidenceID() string { return d.stringField("evidenceId") }

// OriginalName returns the user-facing filename the payload was created from.
func (d JobData) OriginalName() string { return d.stringField("originalName") }

// ProcessName returns an explicit process name supplied in the payload.
func (d JobData) ProcessName() string { return d.stringField("processName") }

// Clone returns a shallow copy so callers can attach derived fields without
// mutating the caller's map.
func (d JobData) Clone() JobData {
	if d == nil {
		return JobData{}
	}
	out := make(JobData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// JobResult is the opaque result payload produced by a handler on success.
type JobResult map[string]any

// Ownership carries the authorization context a job is created under.
// The dispatcher trusts these values verbatim; enforcement lives in the API layer.
type Ownership struct {
	UserID      *string `json:"user_id,omitempty"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
}

// Job is a durably recorded unit of asynchronous work.
//
// Result and Error are mutually exclusive: at most one is set at any time,
// and both are unset while the status is pending or processing.
type Job struct {
	ID               string    `json:"id"                           db:"id"`
	Type             JobType   `json:"type"                         db:"type"`
	Status           JobStatus `json:"status"                       db:"status"`
	Data             JobData   `json:"data"                         db:"data"`
	Result           JobResult `json:"result,omitempty"             db:"result"`
	Error            *string   `json:"error,omitempty"              db:"error"`
	ProcessName      *string   `json:"process_name,omitempty"       db:"process_name"`
	OwnerUserID      *string   `json:"owner_user_id,omitempty"      db:"owner_user_id"`
	OwnerWorkspaceID *string   `json:"owner_workspace_id,omitempty" db:"owner_workspace_id"`
	CreatedAt        time.Time `json:"created_at"                   db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"                   db:"updated_at"`
}

// CheckIntegrity validates the result/error exclusivity invariant.
func (j *Job) CheckIntegrity() error {
	if !j.Status.Valid() {
		return fmt.Errorf("invalid job status: %q", j.Status)
	}
	if j.Result != nil && j.Error != nil {
		return errors.New("job has both result and error set")
	}
	if !j.Status.Terminal() && (j.Result != nil || j.Error != nil) {
		return fmt.Errorf("job in status %q must not carry a result or error", j.Status)
	}
	return nil
}
