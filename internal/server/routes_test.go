package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/capability"
	"github.com/quizforge/quizforge/internal/checkout"
	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/credits"
)

func TestHealthEndpoints(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestMetricsRequireAdminKey(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Admin-Key", "admin-key")
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsPublicWhenConfigured(t *testing.T) {
	f := newServerFixture(t, nil, func(cfg *Config) { cfg.PublicMetrics = true })

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func accessBody() map[string]string {
	return map[string]string{"tenant_id": "tenant-acme", "slug": "focus-style", "locale": "en"}
}

func TestAccessLockedWithoutTokens(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(jsonRequest(t, http.MethodPost, "/api/report/access", accessBody()))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse[errorResponse](t, rec)
	assert.Equal(t, "locked", resp.Error)
}

func TestAccessRejectsWrongMethod(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/report/access", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAccessConsumesCreditAndSetsCookie(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.seedArtifact(t)

	rec := f.do(jsonRequest(t, http.MethodPost, "/api/report/access", accessBody(),
		f.reportTokenCookie(t), f.resultCookie(t), f.creditsCookie(t, 2)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[accessResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.ConsumedCredit)
	assert.Equal(t, 1, resp.CreditsBalance)
	require.NotNil(t, resp.Report)
	assert.Equal(t, "Deep focus", resp.Report.Band.Headline)
	assert.NotEmpty(t, resp.Report.Generated)

	cookie := responseCookie(rec, credits.Cookie)
	require.NotNil(t, cookie, "updated ledger cookie must be set")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	// The rewritten cookie carries the consumption: replaying it does not
	// spend another credit.
	rec = f.do(jsonRequest(t, http.MethodPost, "/api/report/access", accessBody(),
		f.reportTokenCookie(t), f.resultCookie(t),
		&http.Cookie{Name: credits.Cookie, Value: cookie.Value}))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeResponse[accessResponse](t, rec)
	assert.False(t, resp.ConsumedCredit)
	assert.Equal(t, 1, resp.CreditsBalance)
}

func TestAccessPaymentRequired(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.seedArtifact(t)

	rec := f.do(jsonRequest(t, http.MethodPost, "/api/report/access", accessBody(),
		f.reportTokenCookie(t), f.resultCookie(t)))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	resp := decodeResponse[errorResponse](t, rec)
	assert.Equal(t, "payment_required", resp.Error)
	assert.Equal(t, "/t/focus-style/pay", resp.PaywallURL)
}

func TestAccessUnavailableWithoutGenerator(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(jsonRequest(t, http.MethodPost, "/api/report/access", accessBody(),
		f.reportTokenCookie(t), f.resultCookie(t), f.creditsCookie(t, 1)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The credit was consumed before content resolution failed, so the
	// rewritten cookie still has to reach the browser.
	assert.NotNil(t, responseCookie(rec, credits.Cookie))
}

func TestAccessViaLinkTokenQuery(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.seedArtifact(t)

	target := "/api/report/access?" + capability.LinkTokenParam + "=" + f.linkToken(t)
	rec := f.do(jsonRequest(t, http.MethodPost, target, accessBody()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[accessResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.ConsumedCredit)
	assert.Nil(t, responseCookie(rec, credits.Cookie), "link path never rewrites the ledger")
}

func TestPDFViaLinkToken(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.seedArtifact(t)

	target := "/api/report/pdf?tenant_id=tenant-acme&slug=focus-style&locale=en&" +
		capability.LinkTokenParam + "=" + f.linkToken(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "focus-style-report.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestPDFLockedWithoutCredentials(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/report/pdf?tenant_id=tenant-acme&slug=focus-style", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIssueReMintsToken(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	body := map[string]string{"tenant_id": "tenant-acme", "slug": "focus-style"}
	rec := f.do(jsonRequest(t, http.MethodPost, "/api/report/issue", body,
		f.resultCookie(t), f.creditsCookie(t, 1)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[issueResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "grant-1", resp.PurchaseID)
	assert.Equal(t, "test-focus-style", resp.TestID)

	cookie := responseCookie(rec, capability.ReportTokenCookie)
	require.NotNil(t, cookie)
	payload := f.tokens.VerifyReportToken(cookie.Value)
	require.NotNil(t, payload)
	assert.Equal(t, "sess-1", payload.SessionID)
}

func TestIssueLockedWithoutResultCookie(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	body := map[string]string{"tenant_id": "tenant-acme", "slug": "focus-style"}
	rec := f.do(jsonRequest(t, http.MethodPost, "/api/report/issue", body))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse[errorResponse](t, rec)
	assert.Equal(t, "locked", resp.Error)
}

func TestRunJobsRequiresWorkerSecret(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(jsonRequest(t, http.MethodPost, "/api/internal/report-jobs/run", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := jsonRequest(t, http.MethodPost, "/api/internal/report-jobs/run", nil)
	req.Header.Set("X-Worker-Secret", "wrong")
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	req = jsonRequest(t, http.MethodPost, "/api/internal/report-jobs/run", nil)
	req.Header.Set("X-Worker-Secret", "worker-secret")
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse[runJobsResponse](t, rec)
	assert.Equal(t, 0, resp.Processed)
}

func TestRunJobsUnavailableWithoutSecret(t *testing.T) {
	f := newServerFixture(t, nil, func(cfg *Config) { cfg.WorkerSecret = "" })

	rec := f.do(jsonRequest(t, http.MethodPost, "/api/internal/report-jobs/run", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookMountRejectsGet(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/stripe/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHostAllowlist(t *testing.T) {
	f := newServerFixture(t, nil, func(cfg *Config) {
		cfg.AllowedHosts = []string{"api.example.com"}
	})

	req := jsonRequest(t, http.MethodPost, "/api/report/access", accessBody())
	req.Host = "evil.test"
	rec := f.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "host_not_allowed", decodeResponse[errorResponse](t, rec).Error)

	req = jsonRequest(t, http.MethodPost, "/api/report/access", accessBody())
	req.Host = "api.example.com:443"
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "allowed host reaches the handler")
}

func TestOriginAllowlist(t *testing.T) {
	f := newServerFixture(t, nil, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"*.example.com"}
	})

	req := jsonRequest(t, http.MethodPost, "/api/report/access", accessBody())
	req.Header.Set("Origin", "https://evil.test")
	rec := f.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = jsonRequest(t, http.MethodPost, "/api/report/access", accessBody())
	req.Header.Set("Origin", "https://app.example.com")
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "allowed origin reaches the handler")
}

func TestSecurityHeaders(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func paidFixtureSession() *checkout.CheckoutSession {
	return &checkout.CheckoutSession{
		ID:            "cs_test_1",
		Status:        "complete",
		PaymentStatus: "paid",
		AmountTotal:   1490,
		Currency:      "usd",
		Metadata: map[string]string{
			"purchase_id":     "purch-1",
			"tenant_id":       "tenant-acme",
			"test_id":         "test-focus-style",
			"session_id":      "sess-1",
			"distinct_id":     "dist-1",
			"locale":          "en",
			"product_type":    "pack_5",
			"pricing_variant": "base",
			"offer_key":       "pack5",
		},
	}
}

func TestConfirmGrantsAndSetsCookies(t *testing.T) {
	f := newServerFixture(t, &fakeSessions{session: paidFixtureSession()}, nil)

	body := map[string]string{"session_id": "cs_test_1"}
	rec := f.do(jsonRequest(t, http.MethodPost, "/api/checkout/confirm", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[confirmResponse](t, rec)
	assert.Equal(t, "purch-1", resp.PurchaseID)
	assert.Equal(t, "tenant-acme", resp.TenantID)
	assert.Equal(t, 5, resp.CreditsGranted)
	assert.Equal(t, 5, resp.CreditsBalanceAfter)

	tokenCookie := responseCookie(rec, capability.ReportTokenCookie)
	require.NotNil(t, tokenCookie)
	payload := f.tokens.VerifyReportToken(tokenCookie.Value)
	require.NotNil(t, payload)
	assert.Equal(t, "purch-1", payload.PurchaseID)

	creditsCookie := responseCookie(rec, credits.Cookie)
	require.NotNil(t, creditsCookie)
	state := f.ledger.Parse(creditsCookie.Value, "tenant-acme")
	assert.Equal(t, 5, state.CreditsRemaining)

	job, err := f.st.JobByPurchase("purch-1")
	require.NoError(t, err)
	require.NotNil(t, job, "confirm enqueues the report job")
}

func TestConfirmRejectsUnpaidSession(t *testing.T) {
	session := paidFixtureSession()
	session.Status = "open"
	session.PaymentStatus = "unpaid"
	f := newServerFixture(t, &fakeSessions{session: session}, nil)

	body := map[string]string{"session_id": "cs_test_1"}
	rec := f.do(jsonRequest(t, http.MethodPost, "/api/checkout/confirm", body))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "session_not_paid", decodeResponse[errorResponse](t, rec).Error)
}

func TestConfirmSessionLookupFailure(t *testing.T) {
	f := newServerFixture(t, &fakeSessions{err: checkout.ErrSessionLookup}, nil)

	body := map[string]string{"session_id": "cs_test_1"}
	rec := f.do(jsonRequest(t, http.MethodPost, "/api/checkout/confirm", body))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestConfirmRequiresSessionID(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(jsonRequest(t, http.MethodPost, "/api/checkout/confirm", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessWithoutLocaleServesEnglish(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.seedArtifact(t)

	body := map[string]string{"tenant_id": "tenant-acme", "slug": "focus-style"}
	rec := f.do(jsonRequest(t, http.MethodPost, "/api/report/access", body,
		f.reportTokenCookie(t), f.resultCookie(t), f.creditsCookie(t, 2)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[accessResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Report)
	assert.Equal(t, "Deep focus", resp.Report.Band.Headline)
}

func TestCatalogListing(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/catalog?tenant_id=tenant-acme", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[catalogResponse](t, rec)
	assert.Equal(t, "tenant-acme", resp.TenantID)
	assert.Equal(t, "en", resp.Locale)
	require.Len(t, resp.Tests, 1)
	assert.Equal(t, "focus-style", resp.Tests[0].Slug)
	assert.Equal(t, "Focus Style", resp.Tests[0].Title)
}

func TestCatalogRequiresTenantID(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogUnknownTenantIsEmpty(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/catalog?tenant_id=tenant-other", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeResponse[catalogResponse](t, rec).Tests)
}

func TestOffersListing(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/checkout/offers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[offersResponse](t, rec)
	assert.Equal(t, checkout.DefaultOfferKey, resp.DefaultOfferKey)
	require.Len(t, resp.Offers, 4)

	byKey := map[string]offerEntry{}
	for _, offer := range resp.Offers {
		byKey[offer.OfferKey] = offer
	}
	assert.Equal(t, 1, byKey[checkout.DefaultOfferKey].CreditsGranted)
	assert.Equal(t, 5, byKey["pack5"].CreditsGranted)
	assert.Equal(t, 10, byKey["pack10"].CreditsGranted)
}

func TestAdminTestsRequireAdminKey(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/admin/tests", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/tests", nil)
	req.Header.Set("X-Admin-Key", "admin-key")
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	summaries := decodeResponse[[]content.TestSummary](t, rec)
	require.Len(t, summaries, 1)
	assert.Equal(t, "test-focus-style", summaries[0].TestID)
	assert.Equal(t, []string{"en"}, summaries[0].Locales)
}

func TestRequestIDAssigned(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsIncomingHeader(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := f.do(req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
