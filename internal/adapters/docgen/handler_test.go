package docgen

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procdoc/procdoc-go/internal/core"
	"github.com/procdoc/procdoc-go/internal/domain/model"
	"github.com/procdoc/procdoc-go/internal/testutil/fakes"
)

// stubClient returns a canned response and records the last request.
type stubClient struct {
	resp    openai.ChatCompletionResponse
	err     error
	lastReq openai.ChatCompletionRequest
}

func (s *stubClient) CreateChatCompletion(
	_ context.Context,
	req openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func responseWith(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestNewGenerator_RequiresClient(t *testing.T) {
	_, err := NewGenerator(Options{})
	assert.Error(t, err)
}

func TestGenerator_Handle_ParsesArtifactArray(t *testing.T) {
	client := &stubClient{resp: responseWith(
		`[{"type":"bpmn","title":"Invoice flow","content":"<bpmn/>"},` +
			`{"type":"narrative","title":"Overview","content":"The process starts..."}]`,
	)}
	gen, err := NewGenerator(Options{Client: client, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	result, err := gen.Handle(context.Background(), core.JobContext{
		ID: "job-1",
		Data: model.JobData{
			"processName":  "Invoice Intake",
			"originalName": "invoice.pdf",
		},
	})
	require.NoError(t, err)

	artifacts, ok := result["artifacts"].([]artifact)
	require.True(t, ok)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "bpmn", artifacts[0].Type)
	assert.Equal(t, "Invoice flow", artifacts[0].Title)
	assert.NotEmpty(t, artifacts[0].ID)
	assert.NotEmpty(t, artifacts[1].ID)
	assert.NotEqual(t, artifacts[0].ID, artifacts[1].ID)

	// The payload fields drive the prompt.
	require.Len(t, client.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, client.lastReq.Messages[0].Role)
	assert.Contains(t, client.lastReq.Messages[1].Content, "Invoice Intake")
	assert.Contains(t, client.lastReq.Messages[1].Content, "invoice.pdf")
	assert.Equal(t, "gpt-4o-mini", client.lastReq.Model)
}

func TestGenerator_Handle_StripsCodeFence(t *testing.T) {
	client := &stubClient{resp: responseWith(
		"```json\n[{\"type\":\"table\",\"title\":\"Steps\",\"content\":\"|a|b|\"}]\n```",
	)}
	gen, err := NewGenerator(Options{Client: client})
	require.NoError(t, err)

	result, err := gen.Handle(context.Background(), core.JobContext{ID: "job-1", Data: model.JobData{}})
	require.NoError(t, err)

	artifacts := result["artifacts"].([]artifact)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "table", artifacts[0].Type)
}

func TestGenerator_Handle_NonJSONFallsBackToNarrative(t *testing.T) {
	client := &stubClient{resp: responseWith("The process begins when a clerk uploads an invoice.")}
	gen, err := NewGenerator(Options{Client: client})
	require.NoError(t, err)

	result, err := gen.Handle(context.Background(), core.JobContext{
		ID:   "job-1",
		Data: model.JobData{"processName": "Invoice Intake"},
	})
	require.NoError(t, err)

	artifacts := result["artifacts"].([]artifact)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "narrative", artifacts[0].Type)
	assert.Equal(t, "Invoice Intake", artifacts[0].Title)
	assert.Contains(t, artifacts[0].Content, "clerk uploads an invoice")
}

func TestGenerator_Handle_EnrichesPromptFromEvidence(t *testing.T) {
	evidence := fakes.NewMemoryEvidenceStore()
	require.NoError(t, evidence.Save(context.Background(), &model.Evidence{
		ID:           "ev-1",
		Filename:     "ev-1.pdf",
		OriginalName: "invoice.pdf",
		Path:         "/tmp/ev-1.pdf",
		MimeType:     "application/pdf",
		Size:         4096,
		Status:       model.EvidenceStatusPending,
	}))

	client := &stubClient{resp: responseWith(`[{"type":"narrative","title":"t","content":"c"}]`)}
	gen, err := NewGenerator(Options{Client: client, Evidence: evidence})
	require.NoError(t, err)

	_, err = gen.Handle(context.Background(), core.JobContext{
		ID:   "job-1",
		Data: model.JobData{"evidenceId": "ev-1"},
	})
	require.NoError(t, err)

	assert.Contains(t, client.lastReq.Messages[1].Content, "application/pdf")
	assert.Contains(t, client.lastReq.Messages[1].Content, "4096")
}

func TestGenerator_Handle_MissingEvidenceIsTolerated(t *testing.T) {
	client := &stubClient{resp: responseWith(`[{"type":"narrative","title":"t","content":"c"}]`)}
	gen, err := NewGenerator(Options{Client: client, Evidence: fakes.NewMemoryEvidenceStore()})
	require.NoError(t, err)

	// The file was deleted after the job was queued; generation proceeds.
	_, err = gen.Handle(context.Background(), core.JobContext{
		ID:   "job-1",
		Data: model.JobData{"evidenceId": "gone", "originalName": "invoice.pdf"},
	})
	assert.NoError(t, err)
}

func TestGenerator_Handle_ClientError(t *testing.T) {
	client := &stubClient{err: errors.New("rate limited")}
	gen, err := NewGenerator(Options{Client: client})
	require.NoError(t, err)

	_, err = gen.Handle(context.Background(), core.JobContext{ID: "job-1", Data: model.JobData{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
}

func TestGenerator_Handle_NoChoices(t *testing.T) {
	client := &stubClient{resp: openai.ChatCompletionResponse{}}
	gen, err := NewGenerator(Options{Client: client})
	require.NoError(t, err)

	_, err = gen.Handle(context.Background(), core.JobContext{ID: "job-1", Data: model.JobData{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
