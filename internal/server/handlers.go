package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quizforge/quizforge/internal/capability"
	"github.com/quizforge/quizforge/internal/checkout"
	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/credits"
	"github.com/quizforge/quizforge/internal/logging"
	"github.com/quizforge/quizforge/internal/report"
	"github.com/quizforge/quizforge/internal/store"
)

type handlers struct {
	store         *store.Store
	catalog       *content.Catalog
	orchestrator  *report.Orchestrator
	confirmer     *checkout.Confirmer
	worker        *report.Worker
	pdf           *report.PDFGenerator
	workerSecret  string
	secureCookies bool
}

type errorResponse struct {
	Error      string `json:"error"`
	PaywallURL string `json:"paywall_url,omitempty"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, code, paywallURL string) {
	writeJSON(w, status, errorResponse{Error: code, PaywallURL: paywallURL})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *handlers) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *handlers) setCreditsCookie(w http.ResponseWriter, value string) {
	if value != "" {
		h.setCookie(w, credits.Cookie, value, credits.CookieTTL)
	}
}

// decodeBody parses an optional JSON body. An empty body yields the zero
// value: some callers put every parameter in the URL.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var body T
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request_body", "")
		return body, false
	}
	return body, true
}

// accessStatusCode maps an orchestrator status to its HTTP status.
func accessStatusCode(status report.AccessStatus) int {
	switch status {
	case report.AccessOK:
		return http.StatusOK
	case report.AccessGenerating:
		return http.StatusAccepted
	case report.AccessPaymentRequired:
		return http.StatusPaymentRequired
	case report.AccessLocked:
		return http.StatusUnauthorized
	case report.AccessForbidden:
		return http.StatusForbidden
	case report.AccessNotFound:
		return http.StatusNotFound
	case report.AccessNoGrant:
		return http.StatusConflict
	case report.AccessUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

type confirmResponse struct {
	PurchaseID          string `json:"purchase_id"`
	TenantID            string `json:"tenant_id"`
	TestID              string `json:"test_id"`
	CreditsGranted      int    `json:"credits_granted"`
	CreditsBalanceAfter int    `json:"credits_balance_after"`
}

// handleConfirm completes a checkout: verifies the session with Stripe,
// grants credits, and sets the report token and credits cookies.
func (h *handlers) handleConfirm(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody[confirmRequest](w, r)
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(body.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if sessionID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "missing_session_id", "")
		return
	}

	result, err := h.confirmer.Confirm(r.Context(), sessionID, cookieValue(r, credits.Cookie))
	if err != nil {
		var metaErr *checkout.MetadataError
		switch {
		case errors.As(err, &metaErr):
			writeErrorJSON(w, http.StatusBadRequest, "invalid_session_metadata", "")
		case errors.Is(err, checkout.ErrSessionNotPaid):
			writeErrorJSON(w, http.StatusPaymentRequired, "session_not_paid", "")
		case errors.Is(err, checkout.ErrSessionLookup):
			writeErrorJSON(w, http.StatusBadGateway, "session_lookup_failed", "")
		default:
			log.Error().Err(err).Str("request_id", logging.RequestID(r.Context())).Str("stripe_session", sessionID).Msg("Checkout confirm failed")
			writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "")
		}
		return
	}

	h.setCookie(w, capability.ReportTokenCookie, result.ReportToken, capability.ReportTokenTTL)
	h.setCreditsCookie(w, result.CreditsCookie)
	writeJSON(w, http.StatusOK, confirmResponse{
		PurchaseID:          result.PurchaseID,
		TenantID:            result.TenantID,
		TestID:              result.TestID,
		CreditsGranted:      result.CreditsGranted,
		CreditsBalanceAfter: result.CreditsBalanceAfter,
	})
}

type issueRequest struct {
	TenantID string `json:"tenant_id"`
	Slug     string `json:"slug"`
}

type issueResponse struct {
	Status     string `json:"status"`
	PurchaseID string `json:"purchase_id"`
	TestID     string `json:"test_id"`
}

// handleIssue re-mints the report access token from the result snapshot and
// the credits ledger after the original cookie expired.
func (h *handlers) handleIssue(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody[issueRequest](w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.Issue(report.IssueRequest{
		TenantID:      strings.TrimSpace(body.TenantID),
		Slug:          strings.TrimSpace(body.Slug),
		ResultCookie:  cookieValue(r, capability.ResultCookie),
		CreditsCookie: cookieValue(r, credits.Cookie),
	})
	if err != nil {
		log.Error().Err(err).Str("request_id", logging.RequestID(r.Context())).Str("slug", body.Slug).Msg("Report token issue failed")
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	if result.Status != report.AccessOK {
		writeErrorJSON(w, accessStatusCode(result.Status), string(result.Status), result.PaywallURL)
		return
	}

	h.setCookie(w, capability.ReportTokenCookie, result.ReportToken, capability.ReportTokenTTL)
	h.setCreditsCookie(w, result.SetCreditsCookie)
	writeJSON(w, http.StatusOK, issueResponse{
		Status:     string(result.Status),
		PurchaseID: result.PurchaseID,
		TestID:     result.TestID,
	})
}

type accessRequest struct {
	TenantID  string `json:"tenant_id"`
	Slug      string `json:"slug"`
	Locale    string `json:"locale"`
	LinkToken string `json:"link_token"`
}

type accessResponse struct {
	Status         string             `json:"status"`
	Report         *report.ReportView `json:"report,omitempty"`
	CreditsBalance int                `json:"credits_balance"`
	ConsumedCredit bool               `json:"consumed_credit"`
}

func (h *handlers) accessFromRequest(r *http.Request, body accessRequest) report.AccessRequest {
	linkToken := strings.TrimSpace(body.LinkToken)
	if linkToken == "" {
		linkToken = strings.TrimSpace(r.URL.Query().Get(capability.LinkTokenParam))
	}
	locale := content.NormalizeLocale(body.Locale)
	if locale == "" {
		locale = content.FallbackLocale
	}
	return report.AccessRequest{
		TenantID:      strings.TrimSpace(body.TenantID),
		Slug:          strings.TrimSpace(body.Slug),
		Locale:        locale,
		LinkToken:     linkToken,
		ReportToken:   cookieValue(r, capability.ReportTokenCookie),
		ResultCookie:  cookieValue(r, capability.ResultCookie),
		CreditsCookie: cookieValue(r, credits.Cookie),
	}
}

// handleAccess authorizes a report view and returns the report content. The
// updated credits cookie is set whenever the ledger changed, including on
// generating/unavailable outcomes, so a recorded consumption sticks.
func (h *handlers) handleAccess(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody[accessRequest](w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.Access(r.Context(), h.accessFromRequest(r, body))
	if err != nil {
		log.Error().Err(err).Str("request_id", logging.RequestID(r.Context())).Str("slug", body.Slug).Msg("Report access failed")
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	h.setCreditsCookie(w, result.SetCreditsCookie)
	status := accessStatusCode(result.Status)
	switch result.Status {
	case report.AccessOK, report.AccessGenerating:
		writeJSON(w, status, accessResponse{
			Status:         string(result.Status),
			Report:         result.Report,
			CreditsBalance: result.CreditsBalanceAfter,
			ConsumedCredit: result.ConsumedCredit,
		})
	default:
		writeErrorJSON(w, status, string(result.Status), result.PaywallURL)
	}
}

// handlePDF renders a ready report as a PDF download. Authorization follows
// the same path as handleAccess: a link token in ?t= or the access cookie
// pair. Finished views replay for free, so downloading after viewing never
// consumes a second credit.
func (h *handlers) handlePDF(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := h.accessFromRequest(r, accessRequest{
		TenantID: q.Get("tenant_id"),
		Slug:     q.Get("slug"),
		Locale:   q.Get("locale"),
	})

	result, err := h.orchestrator.Access(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("request_id", logging.RequestID(r.Context())).Str("slug", req.Slug).Msg("Report PDF access failed")
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	h.setCreditsCookie(w, result.SetCreditsCookie)
	if result.Status != report.AccessOK {
		writeErrorJSON(w, accessStatusCode(result.Status), string(result.Status), result.PaywallURL)
		return
	}

	view := result.Report
	data := &report.PDFData{
		TestTitle:   view.ReportTitle,
		ReportTitle: view.ReportTitle,
		Band:        &view.Band,
		Scales:      view.ScaleEntries,
		TotalScore:  view.TotalScore,
		GeneratedAt: time.Now().UTC(),
	}
	if localized, err := h.catalog.LocalizedTest(view.TestID, req.Locale); err == nil {
		data.TestTitle = localized.Title
	}
	if len(view.Generated) > 0 {
		doc, err := report.ParseReportJSON(view.Generated)
		if err != nil {
			log.Error().Err(err).Str("request_id", logging.RequestID(r.Context())).Str("test_id", view.TestID).Msg("Stored report document failed validation")
			writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		data.Doc = doc
	}

	pdfBytes, err := h.pdf.Generate(data)
	if err != nil {
		log.Error().Err(err).Str("request_id", logging.RequestID(r.Context())).Str("test_id", view.TestID).Msg("Report PDF render failed")
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", view.Slug+"-report.pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdfBytes)
}

type runJobsResponse struct {
	Processed int `json:"processed"`
}

// handleRunJobs claims and processes queued report jobs. Intended for an
// external scheduler hitting the service when the in-process worker is
// disabled.
type catalogResponse struct {
	TenantID string                `json:"tenant_id"`
	Locale   string                `json:"locale"`
	Tests    []content.CatalogTest `json:"tests"`
}

// handleCatalog lists the tests a tenant offers, localized for display.
func (h *handlers) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := strings.TrimSpace(q.Get("tenant_id"))
	if tenantID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "missing_tenant_id", "")
		return
	}
	locale := content.NormalizeLocale(q.Get("locale"))
	if locale == "" {
		locale = content.FallbackLocale
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		TenantID: tenantID,
		Locale:   locale,
		Tests:    h.catalog.TenantCatalog(tenantID, locale),
	})
}

type offerEntry struct {
	OfferKey       string `json:"offer_key"`
	ProductType    string `json:"product_type"`
	CreditsGranted int    `json:"credits_granted"`
	PricingVariant string `json:"pricing_variant"`
}

type offersResponse struct {
	DefaultOfferKey string       `json:"default_offer_key"`
	Offers          []offerEntry `json:"offers"`
}

// handleOffers returns the purchasable credit bundles for the paywall.
func (h *handlers) handleOffers(w http.ResponseWriter, r *http.Request) {
	listed := checkout.ListOffers()
	entries := make([]offerEntry, 0, len(listed))
	for _, offer := range listed {
		entries = append(entries, offerEntry{
			OfferKey:       offer.OfferKey,
			ProductType:    offer.ProductType,
			CreditsGranted: offer.CreditsGranted,
			PricingVariant: offer.PricingVariant,
		})
	}
	writeJSON(w, http.StatusOK, offersResponse{
		DefaultOfferKey: checkout.DefaultOfferKey,
		Offers:          entries,
	})
}

// handleAdminTests lists every loaded test across tenants for operators.
func (h *handlers) handleAdminTests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.ListAll())
}

func (h *handlers) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	if h.workerSecret == "" {
		writeErrorJSON(w, http.StatusServiceUnavailable, "worker_secret_unset", "")
		return
	}
	provided := strings.TrimSpace(r.Header.Get("X-Worker-Secret"))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.workerSecret)) != 1 {
		writeErrorJSON(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	processed := h.worker.ProcessOnce(r.Context())
	writeJSON(w, http.StatusOK, runJobsResponse{Processed: processed})
}

// handleHealthz returns 200 "ok" unconditionally (liveness probe).
func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks database connectivity (readiness probe).
func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if err := h.store.Ping(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
