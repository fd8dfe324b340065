// Package docgen turns uploaded evidence into process-documentation
// artifacts by prompting a chat-completion model.
package docgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/procdoc/procdoc-go/internal/core"
	"github.com/procdoc/procdoc-go/internal/data"
	"github.com/procdoc/procdoc-go/internal/domain/model"
)

const systemPrompt = `You are a business-process analyst. Given the description of an ` +
	`uploaded evidence document, produce process documentation as a JSON array of ` +
	`artifacts. Each artifact is an object with "type" (one of "bpmn", "table", ` +
	`"narrative"), "title", and "content". Respond with the JSON array only.`

// CompletionClient is the subset of the OpenAI client the generator needs.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures a Generator.
type Options struct {
	Client CompletionClient
	Model  string

	// Evidence, when set, is consulted for file metadata to enrich the prompt.
	Evidence core.EvidenceStore
	Logger   *slog.Logger
}

// Generator is the process_evidence job handler. It prompts the model with the
// evidence metadata and records the returned artifacts as the job result.
type Generator struct {
	client   CompletionClient
	model    string
	evidence core.EvidenceStore
	logger   *slog.Logger
}

// NewGenerator creates a Generator from the given options.
func NewGenerator(opts Options) (*Generator, error) {
	if opts.Client == nil {
		return nil, errors.New("completion client is required")
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:   opts.Client,
		model:    modelName,
		evidence: opts.Evidence,
		logger:   logger.With("component", "docgen"),
	}, nil
}

// artifact is one generated documentation item.
type artifact struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Handle implements core.HandlerFunc for process_evidence jobs.
func (g *Generator) Handle(ctx context.Context, jc core.JobContext) (model.JobResult, error) {
	prompt, err := g.buildPrompt(ctx, jc)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	artifacts := g.parseArtifacts(ctx, jc, content)

	g.logger.InfoContext(ctx, "generated artifacts",
		"job_id", jc.ID, "count", len(artifacts))
	return model.JobResult{"artifacts": artifacts}, nil
}

// buildPrompt assembles the user prompt from the payload and, when available,
// the stored evidence record.
func (g *Generator) buildPrompt(ctx context.Context, jc core.JobContext) (string, error) {
	var b strings.Builder
	b.WriteString("Generate process documentation for the following evidence.\n")

	if name := jc.Data.ProcessName(); name != "" {
		fmt.Fprintf(&b, "Process name: %s\n", name)
	}
	if name := jc.Data.OriginalName(); name != "" {
		fmt.Fprintf(&b, "Source document: %s\n", name)
	}

	evidenceID := jc.Data.EvidenceID()
	if g.evidence != nil && evidenceID != "" {
		ev, err := g.evidence.Get(ctx, evidenceID)
		switch {
		case errors.Is(err, data.ErrEvidenceNotFound):
			// The file may have been deleted after the job was queued;
			// generate from the payload alone.
			g.logger.WarnContext(ctx, "evidence record missing",
				"job_id", jc.ID, "evidence_id", evidenceID)
		case err != nil:
			return "", fmt.Errorf("load evidence %s: %w", evidenceID, err)
		default:
			fmt.Fprintf(&b, "File type: %s\n", ev.MimeType)
			fmt.Fprintf(&b, "File size: %d bytes\n", ev.Size)
		}
	}

	return b.String(), nil
}

// parseArtifacts decodes the model response. A response that is not the
// requested JSON array is kept verbatim as a single narrative artifact
// rather than failing the job.
func (g *Generator) parseArtifacts(ctx context.Context, jc core.JobContext, content string) []artifact {
	trimmed := stripCodeFence(content)

	var parsed []artifact
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && len(parsed) > 0 {
		for i := range parsed {
			parsed[i].ID = uuid.NewString()
			if parsed[i].Type == "" {
				parsed[i].Type = "narrative"
			}
		}
		return parsed
	}

	g.logger.WarnContext(ctx, "model response was not a JSON artifact array",
		"job_id", jc.ID)
	title := jc.Data.ProcessName()
	if title == "" {
		title = "Process documentation"
	}
	return []artifact{{
		ID:      uuid.NewString(),
		Type:    "narrative",
		Title:   title,
		Content: content,
	}}
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// add despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
