package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quizforge/quizforge/internal/capability"
	"github.com/quizforge/quizforge/internal/checkout"
	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/credits"
	"github.com/quizforge/quizforge/internal/report"
	"github.com/quizforge/quizforge/internal/store"
)

const fixtureReportJSON = `{
	"report_title": "Your Focus Style",
	"summary": {
		"headline": "You lean toward deep, uninterrupted work.",
		"bullets": ["Strong preference for long focus blocks"]
	},
	"sections": [
		{
			"id": "overview",
			"title": "Overview",
			"body": "Your answers point to a deliberate working rhythm.",
			"bullets": []
		}
	],
	"action_plan": [
		{"title": "Protect one focus block", "steps": ["Pick a daily 90 minute window"]}
	],
	"disclaimers": ["This report is for self-reflection only."]
}`

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
		},
		Scoring: content.TestScoring{
			Scales: []string{"deep", "flexible", "steady"},
			OptionWeights: map[string]map[string]int{
				"q1a": {"deep": 2, "flexible": 0, "steady": 1},
				"q1b": {"deep": 0, "flexible": 2, "steady": 1},
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

func fixtureScores() map[string]float64 {
	return map[string]float64{"deep": 3, "flexible": 5, "steady": 2}
}

// serverFixture is a fully routed service over temp storage and a fixture
// catalog, with generation left unconfigured. Tests that need generated
// content seed an artifact directly.
type serverFixture struct {
	st      *store.Store
	ledger  *credits.Ledger
	tokens  *capability.Tokens
	handler http.Handler
}

type fakeSessions struct {
	session *checkout.CheckoutSession
	err     error
}

func (f *fakeSessions) RetrieveSession(ctx context.Context, id string) (*checkout.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newServerFixture(t *testing.T, sessions checkout.SessionRetriever, mutate func(cfg *Config)) *serverFixture {
	t.Helper()

	secrets, err := capability.ResolveSecrets("development", func(string) string { return "" })
	if err != nil {
		t.Fatalf("resolve secrets: %v", err)
	}

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

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

	ledger := credits.NewLedger(secrets.Credits)
	tokens := capability.NewTokens(secrets)
	pipeline := report.NewPipeline(st, catalog, nil, report.DefaultStyleID)
	orchestrator := report.NewOrchestrator(st, catalog, ledger, tokens, pipeline)
	worker := report.NewWorker(st, pipeline, 0, 0)

	if sessions == nil {
		sessions = &fakeSessions{err: checkout.ErrSessionLookup}
	}
	confirmer := checkout.NewConfirmer(sessions, st, ledger, tokens)
	webhook := checkout.NewWebhookHandler("whsec_test", st)

	cfg := &Config{
		Environment:     "development",
		BindAddress:     "127.0.0.1",
		Port:            8090,
		WorkerSecret:    "worker-secret",
		AdminKey:        "admin-key",
		RateLimit:       10000,
		RateLimitWindow: time.Minute,
	}
	if mutate != nil {
		mutate(cfg)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:       cfg,
		Store:        st,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Confirmer:    confirmer,
		Worker:       worker,
		Webhook:      webhook,
		PDF:          report.NewPDFGenerator(),
		Version:      "test",
	})

	return &serverFixture{
		st:      st,
		ledger:  ledger,
		tokens:  tokens,
		handler: Handler(mux),
	}
}

// seedArtifact persists a finished report for purch-1 so the access path
// resolves content without a provider.
func (f *serverFixture) seedArtifact(t *testing.T) {
	t.Helper()
	_, err := f.st.InsertArtifact(store.ReportArtifact{
		PurchaseID:     "purch-1",
		TenantID:       "tenant-acme",
		TestID:         "test-focus-style",
		SessionID:      "sess-1",
		Locale:         "en",
		StyleID:        report.DefaultStyleID,
		Model:          "gpt-4o-mini",
		PromptVersion:  report.PromptVersion,
		ScoringVersion: "v1",
		ReportJSON:     json.RawMessage(fixtureReportJSON),
	})
	if err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
}

func (f *serverFixture) reportTokenCookie(t *testing.T) *http.Cookie {
	t.Helper()
	now := time.Now().UTC()
	token, err := f.tokens.SignReportToken(capability.ReportTokenPayload{
		PurchaseID:     "purch-1",
		TenantID:       "tenant-acme",
		TestID:         "test-focus-style",
		SessionID:      "sess-1",
		DistinctID:     "dist-1",
		ProductType:    "single",
		PricingVariant: "base",
		IssuedAtUTC:    now.Format(time.RFC3339),
		ExpiresAtUTC:   now.Add(capability.ReportTokenTTL).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("sign report token: %v", err)
	}
	return &http.Cookie{Name: capability.ReportTokenCookie, Value: token}
}

func (f *serverFixture) resultCookie(t *testing.T) *http.Cookie {
	t.Helper()
	value, err := f.tokens.SignResultSnapshot(capability.ResultSnapshot{
		TenantID:      "tenant-acme",
		SessionID:     "sess-1",
		DistinctID:    "dist-1",
		TestID:        "test-focus-style",
		ComputedAtUTC: "2026-08-30T10:00:00Z",
		BandID:        "band-high",
		ScaleScores:   fixtureScores(),
	})
	if err != nil {
		t.Fatalf("sign result snapshot: %v", err)
	}
	return &http.Cookie{Name: capability.ResultCookie, Value: value}
}

func (f *serverFixture) creditsCookie(t *testing.T, amount int) *http.Cookie {
	t.Helper()
	state := f.ledger.Parse("", "tenant-acme")
	state = f.ledger.Grant(state, amount, "grant-1")
	value, err := f.ledger.Serialize(state)
	if err != nil {
		t.Fatalf("serialize credits: %v", err)
	}
	return &http.Cookie{Name: credits.Cookie, Value: value}
}

func (f *serverFixture) linkToken(t *testing.T) string {
	t.Helper()
	token, err := f.tokens.IssueLinkToken(capability.LinkTokenPayload{
		TenantID:      "tenant-acme",
		TestID:        "test-focus-style",
		ReportKey:     credits.ReportKey("tenant-acme", "test-focus-style", "sess-1"),
		Locale:        "en",
		PurchaseID:    "purch-1",
		SessionID:     "sess-1",
		BandID:        "band-high",
		ScaleScores:   fixtureScores(),
		ComputedAtUTC: "2026-08-30T10:00:00Z",
	}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue link token: %v", err)
	}
	return token
}

func jsonRequest(t *testing.T, method, target string, body any, cookies ...*http.Cookie) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
