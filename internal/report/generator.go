package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quizforge/quizforge/internal/llm"
)

const (
	// DefaultGenerateTimeout bounds one provider call. A slow provider
	// surfaces as a generation failure, never a hung request.
	DefaultGenerateTimeout = 15 * time.Second

	defaultMaxOutputTokens = 1600
)

// Generator produces validated report documents from briefs.
type Generator struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

// NewGenerator wires a provider client to a model. timeout <= 0 selects the
// default.
func NewGenerator(client llm.Client, model string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &Generator{client: client, model: model, timeout: timeout}
}

// Model returns the configured model identifier, recorded on artifacts.
func (g *Generator) Model() string {
	return g.model
}

// Generate builds the prompt for brief, calls the provider under the bounded
// timeout, and strictly validates the structured output. The returned raw
// JSON is what gets persisted; the parsed document is returned for callers
// that render immediately.
func (g *Generator) Generate(ctx context.Context, brief *Brief, styleID string) (json.RawMessage, *ReportJSON, error) {
	prompt, err := BuildPrompt(brief, styleID)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.client.CreateStructuredJSON(ctx, llm.StructuredRequest{
		Model:           g.model,
		System:          prompt.System,
		User:            prompt.User,
		SchemaName:      SchemaName,
		Schema:          ReportSchema(),
		MaxOutputTokens: defaultMaxOutputTokens,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("generate report: %w", err)
	}

	doc, err := ParseReportJSON(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid report output: %w", err)
	}
	return raw, doc, nil
}
