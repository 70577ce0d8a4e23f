package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quizforge/quizforge/internal/checkout"
	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/report"
	"github.com/quizforge/quizforge/internal/store"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config       *Config
	Store        *store.Store
	Catalog      *content.Catalog
	Orchestrator *report.Orchestrator
	Confirmer    *checkout.Confirmer
	Worker       *report.Worker
	Webhook      http.Handler
	PDF          *report.PDFGenerator
	Version      string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	h := &handlers{
		store:         deps.Store,
		catalog:       deps.Catalog,
		orchestrator:  deps.Orchestrator,
		confirmer:     deps.Confirmer,
		worker:        deps.Worker,
		pdf:           deps.PDF,
		workerSecret:  deps.Config.WorkerSecret,
		secureCookies: deps.Config.Production(),
	}

	adminAuth := func(next http.Handler) http.Handler {
		return adminKeyMiddleware(deps.Config.AdminKey, next)
	}
	limiter := NewRateLimiter(deps.Config.RateLimit, deps.Config.RateLimitWindow)
	guarded := func(method string, fn http.HandlerFunc) http.Handler {
		chain := requireMethod(method, fn)
		return hostGuard(deps.Config.AllowedHosts,
			originGuard(deps.Config.AllowedOrigins,
				limiter.Middleware(bodyLimit(chain))))
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	// Metrics are private by default.
	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated). Origin checks do not apply:
	// Stripe calls server to server.
	mux.Handle("/api/stripe/webhook", hostGuard(deps.Config.AllowedHosts,
		limiter.Middleware(deps.Webhook)))

	// Public catalog and paywall data.
	mux.Handle("/api/catalog", guarded(http.MethodGet, h.handleCatalog))
	mux.Handle("/api/checkout/offers", guarded(http.MethodGet, h.handleOffers))

	// Operator surface (admin-key authenticated).
	mux.Handle("/api/admin/tests", adminAuth(guarded(http.MethodGet, h.handleAdminTests)))

	// Checkout and report API.
	mux.Handle("/api/checkout/confirm", guarded(http.MethodPost, h.handleConfirm))
	mux.Handle("/api/report/issue", guarded(http.MethodPost, h.handleIssue))
	mux.Handle("/api/report/access", guarded(http.MethodPost, h.handleAccess))
	mux.Handle("/api/report/pdf", guarded(http.MethodGet, h.handlePDF))

	// Internal job runner (worker-secret authenticated).
	mux.Handle("/api/internal/report-jobs/run", guarded(http.MethodPost, h.handleRunJobs))
}

// Handler wraps the routed mux with response-wide middleware.
func Handler(mux *http.ServeMux) http.Handler {
	return requestTracing(securityHeaders(mux))
}
