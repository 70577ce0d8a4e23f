package checkout

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/quizforge/quizforge/internal/qmetrics"
	"github.com/quizforge/quizforge/internal/store"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler handles incoming Stripe webhook events. Its only job is to
// pre-enqueue the report job on checkout.session.completed so generation can
// start before the buyer's browser returns from checkout. Enqueue is
// idempotent on purchase_id, so webhook replays converge on one row.
type WebhookHandler struct {
	secret string
	store  *store.Store
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, st *store.Store) *WebhookHandler {
	return &WebhookHandler{secret: secret, store: st}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		qmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(&event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.handleCheckoutCompleted(session)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(session CheckoutSession) error {
	if !session.Paid() {
		log.Info().Str("session_id", session.ID).Msg("Stripe checkout completed but unpaid, skipping")
		return nil
	}

	meta := ParseSessionMetadata(session.Metadata)
	if missing := meta.MissingRequired(); len(missing) > 0 {
		// Sessions created outside the quiz flow land here; not an error.
		log.Warn().
			Str("session_id", session.ID).
			Strs("missing", missing).
			Msg("Stripe checkout metadata incomplete, skipping enqueue")
		return nil
	}

	job, created, err := h.store.EnqueueJob(store.EnqueueJobInput{
		PurchaseID: meta.PurchaseID,
		TenantID:   meta.TenantID,
		TestID:     meta.TestID,
		SessionID:  meta.SessionID,
		Locale:     meta.Locale,
	})
	if err != nil {
		return fmt.Errorf("enqueue report job: %w", err)
	}
	log.Info().
		Str("purchase_id", job.PurchaseID).
		Str("tenant_id", job.TenantID).
		Bool("created", created).
		Msg("Report job enqueued from webhook")
	return nil
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("checkout: encode webhook response")
	}
}
