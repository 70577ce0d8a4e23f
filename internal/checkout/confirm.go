package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quizforge/quizforge/internal/capability"
	"github.com/quizforge/quizforge/internal/credits"
	"github.com/quizforge/quizforge/internal/qmetrics"
	"github.com/quizforge/quizforge/internal/store"
)

var (
	// ErrSessionLookup means Stripe could not return the session.
	ErrSessionLookup = errors.New("unable to retrieve checkout session")
	// ErrSessionNotPaid means the session exists but has not settled.
	ErrSessionNotPaid = errors.New("checkout session is not paid")
)

// MetadataError reports which required metadata fields the session lacked.
type MetadataError struct {
	Missing []string
}

func (e *MetadataError) Error() string {
	return "stripe metadata is missing required fields: " + strings.Join(e.Missing, ", ")
}

// ConfirmResult is everything the transport layer needs to answer a
// successful confirmation: the minted report token cookie and, when credits
// were granted, the updated ledger cookie.
type ConfirmResult struct {
	PurchaseID          string
	TenantID            string
	TestID              string
	CreditsGranted      int
	CreditsBalanceAfter int
	ReportToken         string
	CreditsCookie       string
}

// Confirmer runs the post-payment confirmation flow. Every step is
// idempotent, so the buyer's browser may retry confirmation freely: the job
// enqueue dedupes on purchase_id and the grant dedupes on grant id.
type Confirmer struct {
	sessions SessionRetriever
	store    *store.Store
	ledger   *credits.Ledger
	tokens   *capability.Tokens
	now      func() time.Time
}

// NewConfirmer wires the confirmation flow.
func NewConfirmer(sessions SessionRetriever, st *store.Store, ledger *credits.Ledger, tokens *capability.Tokens) *Confirmer {
	return &Confirmer{
		sessions: sessions,
		store:    st,
		ledger:   ledger,
		tokens:   tokens,
		now:      time.Now,
	}
}

// WithClock returns a copy of c that reads time from now. Test hook.
func (c *Confirmer) WithClock(now func() time.Time) *Confirmer {
	clone := *c
	clone.now = now
	return &clone
}

// Confirm retrieves the session, grants what was purchased, and mints the
// report access token. creditsCookie is the raw QF_CREDITS value from the
// request, possibly empty.
func (c *Confirmer) Confirm(ctx context.Context, stripeSessionID, creditsCookie string) (*ConfirmResult, error) {
	session, err := c.sessions.RetrieveSession(ctx, stripeSessionID)
	if err != nil {
		log.Warn().Err(err).Msg("Checkout session retrieval failed")
		return nil, ErrSessionLookup
	}
	if !session.Paid() {
		return nil, ErrSessionNotPaid
	}

	meta := ParseSessionMetadata(session.Metadata)
	if missing := meta.MissingRequired(); len(missing) > 0 {
		return nil, &MetadataError{Missing: missing}
	}

	if meta.OfferKey != "" && !IsOfferKey(meta.OfferKey) {
		log.Warn().Str("offer_key", meta.OfferKey).Str("purchase_id", meta.PurchaseID).
			Msg("Unknown offer key; falling back to metadata credit count")
	}

	creditsGranted := meta.ResolveCreditsGranted()
	state := c.ledger.Parse(creditsCookie, meta.TenantID)
	alreadyGranted := c.ledger.HasGrant(state, meta.PurchaseID)

	// The webhook normally enqueues first; retrying here costs nothing and
	// covers deployments without a webhook endpoint.
	if _, _, err := c.store.EnqueueJob(store.EnqueueJobInput{
		PurchaseID: meta.PurchaseID,
		TenantID:   meta.TenantID,
		TestID:     meta.TestID,
		SessionID:  meta.SessionID,
		Locale:     meta.Locale,
	}); err != nil {
		log.Warn().Err(err).Str("purchase_id", meta.PurchaseID).Msg("Report job enqueue failed during confirm")
	}

	state = c.ledger.Grant(state, creditsGranted, meta.PurchaseID)
	state = c.ledger.SetLastGrant(state, &credits.GrantMetadata{
		GrantID:        meta.PurchaseID,
		OfferKey:       meta.OfferKey,
		ProductType:    meta.ProductType,
		PricingVariant: meta.PricingVariant,
	})
	if !alreadyGranted && creditsGranted > 0 {
		qmetrics.CreditsGrantedTotal.WithLabelValues(meta.TenantID).Add(float64(creditsGranted))
	}

	issuedAt := c.now().UTC()
	reportToken, err := c.tokens.SignReportToken(capability.ReportTokenPayload{
		PurchaseID:     meta.PurchaseID,
		TenantID:       meta.TenantID,
		TestID:         meta.TestID,
		SessionID:      meta.SessionID,
		DistinctID:     meta.DistinctID,
		ProductType:    meta.ProductType,
		PricingVariant: meta.PricingVariant,
		IssuedAtUTC:    issuedAt.Format(time.RFC3339),
		ExpiresAtUTC:   issuedAt.Add(capability.ReportTokenTTL).Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("sign report token: %w", err)
	}

	result := &ConfirmResult{
		PurchaseID:          meta.PurchaseID,
		TenantID:            meta.TenantID,
		TestID:              meta.TestID,
		CreditsGranted:      creditsGranted,
		CreditsBalanceAfter: state.CreditsRemaining,
		ReportToken:         reportToken,
	}
	if creditsGranted > 0 {
		cookie, err := c.ledger.Serialize(state)
		if err != nil {
			return nil, fmt.Errorf("serialize credits: %w", err)
		}
		result.CreditsCookie = cookie
	}
	return result, nil
}
