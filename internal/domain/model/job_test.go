package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   bool
	}{
		{"pending", JobStatusPending, true},
		{"processing", JobStatusProcessing, true},
		{"completed", JobStatusCompleted, true},
		{"failed", JobStatusFailed, true},
		{"empty", JobStatus(""), false},
		{"unknown", JobStatus("cancelled"), false},
		{"case sensitive", JobStatus("Pending"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Valid())
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobStatus_UnmarshalText(t *testing.T) {
	var s JobStatus
	require.NoError(t, s.UnmarshalText([]byte(" Completed ")))
	assert.Equal(t, JobStatusCompleted, s)

	err := s.UnmarshalText([]byte("done"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JobStatus")
}

func TestJobData_Accessors(t *testing.T) {
	data := JobData{
		"evidenceId":   "ev-1",
		"originalName": " invoice.pdf ",
		"processName":  "Invoice Intake",
		"extra":        42,
	}

	assert.Equal(t, "ev-1", data.EvidenceID())
	assert.Equal(t, "invoice.pdf", data.OriginalName())
	assert.Equal(t, "Invoice Intake", data.ProcessName())

	var nilData JobData
	assert.Empty(t, nilData.EvidenceID())
	assert.Empty(t, nilData.OriginalName())
	assert.Empty(t, nilData.ProcessName())

	// Non-string values are treated as absent.
	assert.Empty(t, JobData{"evidenceId": 7}.EvidenceID())
}

func TestJobData_Clone(t *testing.T) {
	orig := JobData{"a": "b"}
	clone := orig.Clone()
	clone["a"] = "c"
	clone["d"] = "e"

	assert.Equal(t, "b", orig["a"])
	assert.NotContains(t, orig, "d")

	var nilData JobData
	assert.NotNil(t, nilData.Clone())
}

func TestJob_CheckIntegrity(t *testing.T) {
	errMsg := "boom"

	tests := []struct {
		name    string
		job     Job
		wantErr string
	}{
		{
			name: "pending without outcome",
			job:  Job{Status: JobStatusPending},
		},
		{
			name: "completed with result",
			job:  Job{Status: JobStatusCompleted, Result: JobResult{"ok": true}},
		},
		{
			name: "failed with error",
			job:  Job{Status: JobStatusFailed, Error: &errMsg},
		},
		{
			name:    "invalid status",
			job:     Job{Status: "done"},
			wantErr: "invalid job status",
		},
		{
			name:    "both result and error",
			job:     Job{Status: JobStatusFailed, Result: JobResult{}, Error: &errMsg},
			wantErr: "both result and error",
		},
		{
			name:    "pending with result",
			job:     Job{Status: JobStatusPending, Result: JobResult{}},
			wantErr: "must not carry a result or error",
		},
		{
			name:    "processing with error",
			job:     Job{Status: JobStatusProcessing, Error: &errMsg},
			wantErr: "must not carry a result or error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.CheckIntegrity()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
