package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/quizforge/quizforge/internal/llm"
)

func fixtureBrief(t *testing.T) *Brief {
	t.Helper()
	attempt := fixtureAttempt()
	brief, err := BuildBrief(fixtureSpec(), &attempt)
	if err != nil {
		t.Fatalf("build brief: %v", err)
	}
	return brief
}

func TestGeneratorGenerate(t *testing.T) {
	var captured llm.StructuredRequest
	client := &fakeLLM{reply: func(req llm.StructuredRequest) (json.RawMessage, error) {
		captured = req
		return json.RawMessage(validReportJSON), nil
	}}
	gen := NewGenerator(client, "gpt-4o-mini", 0)

	raw, doc, err := gen.Generate(context.Background(), fixtureBrief(t), "balanced")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(raw) != validReportJSON {
		t.Error("raw output should be the provider response verbatim")
	}
	if doc == nil || doc.ReportTitle != "Your Focus Style" {
		t.Errorf("unexpected parsed document: %+v", doc)
	}

	if captured.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model: %s", captured.Model)
	}
	if captured.SchemaName != SchemaName {
		t.Errorf("unexpected schema name: %s", captured.SchemaName)
	}
	if captured.MaxOutputTokens != defaultMaxOutputTokens {
		t.Errorf("unexpected max output tokens: %d", captured.MaxOutputTokens)
	}
	if captured.System == "" || captured.User == "" {
		t.Error("prompt messages must not be empty")
	}
}

func TestGeneratorRejectsInvalidOutput(t *testing.T) {
	client := &fakeLLM{reply: func(llm.StructuredRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"report_title": "only a title"}`), nil
	}}
	gen := NewGenerator(client, "gpt-4o-mini", 0)

	if _, _, err := gen.Generate(context.Background(), fixtureBrief(t), ""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGeneratorPropagatesProviderError(t *testing.T) {
	providerErr := errors.New("rate limited")
	client := &fakeLLM{reply: func(llm.StructuredRequest) (json.RawMessage, error) {
		return nil, providerErr
	}}
	gen := NewGenerator(client, "gpt-4o-mini", 0)

	_, _, err := gen.Generate(context.Background(), fixtureBrief(t), "")
	if !errors.Is(err, providerErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestGeneratorTimeout(t *testing.T) {
	client := &slowLLM{}
	gen := NewGenerator(client, "gpt-4o-mini", 20*time.Millisecond)

	_, _, err := gen.Generate(context.Background(), fixtureBrief(t), "")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

// slowLLM blocks until the request context is cancelled.
type slowLLM struct{}

func (s *slowLLM) Name() string { return "slow" }

func (s *slowLLM) CreateStructuredJSON(ctx context.Context, _ llm.StructuredRequest) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
