package report

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quizforge/quizforge/internal/capability"
	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/credits"
	"github.com/quizforge/quizforge/internal/qmetrics"
	"github.com/quizforge/quizforge/internal/store"
)

// AccessStatus is the outcome of one report access request.
type AccessStatus string

const (
	// AccessOK means the report is available in the result.
	AccessOK AccessStatus = "ok"
	// AccessGenerating means a worker holds the job; the caller should poll.
	AccessGenerating AccessStatus = "generating"
	// AccessPaymentRequired means the ledger could not cover the view.
	AccessPaymentRequired AccessStatus = "payment_required"
	// AccessLocked means no usable credentials accompanied the request.
	AccessLocked AccessStatus = "locked"
	// AccessForbidden means credentials were present but did not match.
	AccessForbidden AccessStatus = "forbidden"
	// AccessNotFound means the test is not available to this tenant.
	AccessNotFound AccessStatus = "not_found"
	// AccessUnavailable means the report content could not be produced.
	AccessUnavailable AccessStatus = "unavailable"
)

// AccessRequest carries everything a report access decision needs. Token
// values arrive as raw cookie/parameter strings; verification happens here.
type AccessRequest struct {
	TenantID      string
	Slug          string
	Locale        string
	LinkToken     string
	ReportToken   string
	ResultCookie  string
	CreditsCookie string
}

// ScaleEntry is one scale score in a rendered report, ordered by scale id.
type ScaleEntry struct {
	Scale string  `json:"scale"`
	Value float64 `json:"value"`
}

// BandView is the result-band copy shown with the report.
type BandView struct {
	Headline string   `json:"headline"`
	Summary  string   `json:"summary"`
	Bullets  []string `json:"bullets"`
}

// ReportView is the band-scored view of an attempt, always present on an ok
// result. Generated holds the model-written document when one exists.
type ReportView struct {
	TestID       string          `json:"test_id"`
	Slug         string          `json:"slug"`
	ReportTitle  string          `json:"report_title"`
	Band         BandView        `json:"band"`
	ScaleEntries []ScaleEntry    `json:"scale_entries"`
	TotalScore   float64         `json:"total_score"`
	Generated    json.RawMessage `json:"generated,omitempty"`
}

// AccessResult is the orchestrator's decision plus everything the transport
// layer needs to respond: the report, the updated ledger cookie, and the
// consumption accounting. SetCreditsCookie is populated whenever the ledger
// changed, even when generation is still pending or disabled, so a recorded
// consumption always reaches the browser.
type AccessResult struct {
	Status              AccessStatus
	Report              *ReportView
	PurchaseID          string
	SessionID           string
	CreditsBalanceAfter int
	ConsumedCredit      bool
	SetCreditsCookie    string
	PaywallURL          string
}

// Orchestrator authorizes report access and resolves report content.
type Orchestrator struct {
	store    *store.Store
	catalog  *content.Catalog
	ledger   *credits.Ledger
	tokens   *capability.Tokens
	pipeline *Pipeline
	group    singleflight.Group
}

// NewOrchestrator wires the access path.
func NewOrchestrator(st *store.Store, catalog *content.Catalog, ledger *credits.Ledger, tokens *capability.Tokens, pipeline *Pipeline) *Orchestrator {
	return &Orchestrator{store: st, catalog: catalog, ledger: ledger, tokens: tokens, pipeline: pipeline}
}

func scaleEntries(scores map[string]float64) ([]ScaleEntry, float64) {
	entries := make([]ScaleEntry, 0, len(scores))
	var total float64
	for scale, value := range scores {
		entries = append(entries, ScaleEntry{Scale: scale, Value: value})
		total += value
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Scale < entries[j].Scale })
	return entries, total
}

func (o *Orchestrator) resolveTestID(tenantID, slug string) string {
	testID := o.catalog.TestBySlug(slug)
	if testID == "" {
		return ""
	}
	for _, allowed := range o.catalog.TenantTestIDs(tenantID) {
		if allowed == testID {
			return testID
		}
	}
	return ""
}

func (o *Orchestrator) bandView(testID, locale, bandID string) (*content.LocalizedTest, *BandView) {
	test, err := o.catalog.LocalizedTest(testID, locale)
	if err != nil {
		return nil, nil
	}
	for _, band := range test.ResultBands {
		if band.BandID != bandID {
			continue
		}
		bandCopy, ok := band.Copy[test.Locale]
		if !ok {
			return test, nil
		}
		return test, &BandView{
			Headline: bandCopy.Headline,
			Summary:  bandCopy.Summary,
			Bullets:  bandCopy.Bullets,
		}
	}
	return test, nil
}

// Access decides one report access request. The link-token path never
// mutates credits; the cookie path consumes at most one credit per report
// key for the lifetime of the ledger.
func (o *Orchestrator) Access(ctx context.Context, req AccessRequest) (*AccessResult, error) {
	testID := o.resolveTestID(req.TenantID, req.Slug)
	if testID == "" {
		return &AccessResult{Status: AccessNotFound}, nil
	}

	if locale := content.NormalizeLocale(req.Locale); locale != "" {
		req.Locale = locale
	} else {
		req.Locale = content.FallbackLocale
	}

	if req.LinkToken != "" {
		return o.accessViaLink(ctx, req, testID)
	}
	return o.accessViaCookies(ctx, req, testID)
}

func (o *Orchestrator) accessViaLink(ctx context.Context, req AccessRequest, testID string) (*AccessResult, error) {
	payload, err := o.tokens.VerifyLinkToken(req.LinkToken)
	if err != nil {
		qmetrics.ReportAccessTotal.WithLabelValues("link_invalid").Inc()
		return &AccessResult{Status: AccessForbidden}, nil
	}
	if payload.TenantID != req.TenantID || payload.TestID != testID {
		return &AccessResult{Status: AccessForbidden}, nil
	}
	if credits.ReportKey(req.TenantID, testID, payload.SessionID) != payload.ReportKey {
		return &AccessResult{Status: AccessForbidden}, nil
	}

	test, band := o.bandView(testID, payload.Locale, payload.BandID)
	if test == nil || band == nil {
		return &AccessResult{Status: AccessUnavailable}, nil
	}

	entries, total := scaleEntries(payload.ScaleScores)
	view := &ReportView{
		TestID:       test.TestID,
		Slug:         test.Slug,
		ReportTitle:  test.ReportTitle,
		Band:         *band,
		ScaleEntries: entries,
		TotalScore:   total,
	}

	state := o.ledger.Parse(req.CreditsCookie, req.TenantID)
	result := &AccessResult{
		Report:              view,
		PurchaseID:          payload.PurchaseID,
		SessionID:           payload.SessionID,
		CreditsBalanceAfter: state.CreditsRemaining,
		ConsumedCredit:      false,
	}

	doc, status := o.resolveGenerated(ctx, jobKey{
		PurchaseID: payload.PurchaseID,
		TenantID:   req.TenantID,
		TestID:     testID,
		SessionID:  payload.SessionID,
		Locale:     payload.Locale,
	})
	view.Generated = doc
	result.Status = status
	if status == AccessOK {
		qmetrics.ReportAccessTotal.WithLabelValues("link_ok").Inc()
	}
	return result, nil
}

func (o *Orchestrator) accessViaCookies(ctx context.Context, req AccessRequest, testID string) (*AccessResult, error) {
	reportPayload := o.tokens.VerifyReportToken(req.ReportToken)
	resultPayload := o.tokens.VerifyResultSnapshot(req.ResultCookie)
	if reportPayload == nil || resultPayload == nil {
		qmetrics.ReportAccessTotal.WithLabelValues("locked").Inc()
		return &AccessResult{Status: AccessLocked}, nil
	}

	matches := reportPayload.TenantID == req.TenantID &&
		reportPayload.TestID == testID &&
		resultPayload.TenantID == reportPayload.TenantID &&
		resultPayload.TestID == reportPayload.TestID &&
		resultPayload.SessionID == reportPayload.SessionID &&
		resultPayload.DistinctID == reportPayload.DistinctID
	if !matches {
		qmetrics.ReportAccessTotal.WithLabelValues("mismatch").Inc()
		return &AccessResult{Status: AccessForbidden}, nil
	}

	// Resolve the band copy before touching the ledger: a missing band means
	// nothing can be served, so the credit must survive for a later retry.
	test, band := o.bandView(testID, req.Locale, resultPayload.BandID)
	if test == nil || band == nil {
		return &AccessResult{Status: AccessUnavailable}, nil
	}

	reportKey := credits.ReportKey(req.TenantID, testID, reportPayload.SessionID)
	state := o.ledger.Parse(req.CreditsCookie, req.TenantID)

	alreadyConsumed := false
	for _, key := range state.ConsumedReportKeys {
		if key == reportKey {
			alreadyConsumed = true
			break
		}
	}

	consumedCredit := false
	nextState := state
	setCookie := ""
	if !alreadyConsumed {
		var consumed bool
		nextState, consumed = o.ledger.Consume(state, reportKey)
		if !consumed {
			qmetrics.ReportAccessTotal.WithLabelValues("payment_required").Inc()
			return &AccessResult{
				Status:     AccessPaymentRequired,
				PaywallURL: "/t/" + req.Slug + "/pay",
			}, nil
		}
		consumedCredit = true
		qmetrics.CreditsConsumedTotal.WithLabelValues(req.TenantID).Inc()

		signed, err := o.ledger.Serialize(nextState)
		if err != nil {
			return nil, err
		}
		setCookie = signed
	}

	result := &AccessResult{
		PurchaseID:          reportPayload.PurchaseID,
		SessionID:           reportPayload.SessionID,
		CreditsBalanceAfter: nextState.CreditsRemaining,
		ConsumedCredit:      consumedCredit,
		SetCreditsCookie:    setCookie,
	}

	entries, total := scaleEntries(resultPayload.ScaleScores)
	view := &ReportView{
		TestID:       test.TestID,
		Slug:         test.Slug,
		ReportTitle:  test.ReportTitle,
		Band:         *band,
		ScaleEntries: entries,
		TotalScore:   total,
	}
	result.Report = view

	doc, status := o.resolveGenerated(ctx, jobKey{
		PurchaseID: reportPayload.PurchaseID,
		TenantID:   req.TenantID,
		TestID:     testID,
		SessionID:  reportPayload.SessionID,
		Locale:     test.Locale,
	})
	view.Generated = doc
	result.Status = status
	if status == AccessOK {
		qmetrics.ReportAccessTotal.WithLabelValues("ok").Inc()
	}
	return result, nil
}

// jobKey identifies one report job for the inline generation path.
type jobKey struct {
	PurchaseID string
	TenantID   string
	TestID     string
	SessionID  string
	Locale     string
}

// resolveGenerated resolves the model-written document for a purchase. A
// persisted artifact is a cache hit. With no generation configured the
// report is simply not generated. A job actively held by a worker defers to
// that worker. Otherwise the document is produced inline; concurrent viewers
// of the same purchase share one flight, and the inline path converges with
// the worker path on the idempotent artifact insert.
func (o *Orchestrator) resolveGenerated(ctx context.Context, key jobKey) (json.RawMessage, AccessStatus) {
	artifact, err := o.store.ArtifactByPurchase(key.PurchaseID)
	if err != nil {
		return nil, AccessUnavailable
	}
	if artifact != nil {
		return artifact.ReportJSON, AccessOK
	}
	if !o.pipeline.Enabled() {
		return nil, AccessUnavailable
	}

	job, err := o.store.JobByPurchase(key.PurchaseID)
	if err != nil {
		return nil, AccessUnavailable
	}
	if job != nil && job.Status == store.JobRunning {
		return nil, AccessGenerating
	}

	raw, err, _ := o.group.Do(key.PurchaseID, func() (any, error) {
		return o.generateInline(ctx, key, job)
	})
	if err != nil {
		return nil, AccessUnavailable
	}
	doc, ok := raw.(json.RawMessage)
	if !ok || len(doc) == 0 {
		return nil, AccessUnavailable
	}
	return doc, AccessOK
}

func (o *Orchestrator) generateInline(ctx context.Context, key jobKey, job *store.ReportJob) (any, error) {
	if job == nil {
		enqueued, _, err := o.store.EnqueueJob(store.EnqueueJobInput{
			PurchaseID: key.PurchaseID,
			TenantID:   key.TenantID,
			TestID:     key.TestID,
			SessionID:  key.SessionID,
			Locale:     key.Locale,
		})
		if err != nil {
			return nil, err
		}
		job = enqueued
	}

	start := time.Now()
	err := o.pipeline.ProcessJob(ctx, job)
	qmetrics.GenerationDuration.WithLabelValues("inline").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	artifact, err := o.store.ArtifactByPurchase(key.PurchaseID)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return json.RawMessage(nil), nil
	}
	return artifact.ReportJSON, nil
}
