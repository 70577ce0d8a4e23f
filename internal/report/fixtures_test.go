package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/store"
)

const validReportJSON = `{
	"report_title": "Your Focus Style",
	"summary": {
		"headline": "You lean toward deep, uninterrupted work.",
		"bullets": ["Strong preference for long focus blocks", "Flexibility under pressure"]
	},
	"sections": [
		{
			"id": "overview",
			"title": "Overview",
			"body": "Your answers point to a deliberate working rhythm.",
			"bullets": ["Plans the day around one anchor task"]
		}
	],
	"action_plan": [
		{"title": "Protect one focus block", "steps": ["Pick a daily 90 minute window", "Silence notifications for it"]}
	],
	"disclaimers": ["This report is for self-reflection only."]
}`

// fixtureSpec is a small two-question test with three scored scales. The
// steady scale carries the same weight on every option, so its achievable
// range is degenerate.
func fixtureSpec() *content.TestSpec {
	en := map[string]string{"en": "copy"}
	return &content.TestSpec{
		TestID:   "test-focus-style",
		Slug:     "focus-style",
		Version:  1,
		Category: "personality",
		Locales: map[string]content.LocaleStrings{
			"en": {
				Title:            "Focus Style",
				ShortDescription: "How you focus",
				Intro:            "Answer honestly.",
				PaywallHeadline:  "Unlock your full report",
				ReportTitle:      "Your Focus Style Report",
			},
		},
		Questions: []content.TestQuestion{
			{
				ID:     "q1",
				Type:   "single_choice",
				Prompt: en,
				Options: []content.QuestionOption{
					{ID: "q1a", Label: en},
					{ID: "q1b", Label: en},
				},
			},
			{
				ID:     "q2",
				Type:   "single_choice",
				Prompt: en,
				Options: []content.QuestionOption{
					{ID: "q2a", Label: en},
					{ID: "q2b", Label: en},
				},
			},
		},
		Scoring: content.TestScoring{
			Scales: []string{"deep", "flexible", "steady"},
			OptionWeights: map[string]map[string]int{
				"q1a": {"deep": 2, "flexible": 0, "steady": 1},
				"q1b": {"deep": 0, "flexible": 2, "steady": 1},
				"q2a": {"deep": 3, "flexible": 1, "steady": 1},
				"q2b": {"deep": 1, "flexible": 3, "steady": 1},
			},
		},
		ResultBands: []content.ResultBand{
			{
				BandID:            "band-low",
				MinScoreInclusive: 0,
				MaxScoreInclusive: 5,
				Copy: map[string]content.ResultBandCopy{
					"en": {Headline: "Steady pace", Summary: "You keep an even rhythm.", Bullets: []string{"low"}},
				},
			},
			{
				BandID:            "band-high",
				MinScoreInclusive: 6,
				MaxScoreInclusive: 12,
				Copy: map[string]content.ResultBandCopy{
					"en": {Headline: "Deep focus", Summary: "You work in long blocks.", Bullets: []string{"high"}},
				},
			},
		},
	}
}

func fixtureAttempt() store.AttemptSummary {
	return store.AttemptSummary{
		TenantID:   "tenant-acme",
		TestID:     "test-focus-style",
		SessionID:  "sess-1",
		DistinctID: "dist-1",
		Locale:     "en",
		ComputedAt: "2026-08-30T10:00:00Z",
		BandID:     "band-high",
		ScaleScores: map[string]float64{
			"deep":     3,
			"flexible": 5,
			"steady":   2,
		},
		TotalScore: 10,
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// loadFixtureCatalog writes the fixture spec to a temp content root and
// loads it, assigning the test to tenant-acme.
func loadFixtureCatalog(t *testing.T) *content.Catalog {
	t.Helper()
	root := t.TempDir()

	spec := fixtureSpec()
	specJSON, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal fixture spec: %v", err)
	}
	dir := filepath.Join(root, "tests", spec.TestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "spec.json"), specJSON, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	tenantTable := `{"tenants":{"tenant-acme":["test-focus-style"]}}`
	if err := os.WriteFile(filepath.Join(root, "catalog.json"), []byte(tenantTable), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := content.LoadCatalog(root)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return catalog
}

// fakeLLM is an in-memory provider whose replies the test controls.
type fakeLLM struct {
	mu    sync.Mutex
	calls int
	reply func(req llm.StructuredRequest) (json.RawMessage, error)
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) CreateStructuredJSON(ctx context.Context, req llm.StructuredRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.reply(req)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func validReplies() func(req llm.StructuredRequest) (json.RawMessage, error) {
	return func(llm.StructuredRequest) (json.RawMessage, error) {
		return json.RawMessage(validReportJSON), nil
	}
}
