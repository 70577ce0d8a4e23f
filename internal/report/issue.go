package report

import (
	"time"

	"github.com/quizforge/quizforge/internal/capability"
	"github.com/quizforge/quizforge/internal/credits"
)

// AccessNoGrant means the ledger shows entitlement but carries no purchase
// metadata to mint a token from. The caller must complete checkout again.
const AccessNoGrant AccessStatus = "no_grant"

// IssueRequest asks for a fresh report access token. The result snapshot
// proves the attempt; the ledger proves the entitlement.
type IssueRequest struct {
	TenantID      string
	Slug          string
	ResultCookie  string
	CreditsCookie string
}

// IssueResult carries the minted token and, when the last-grant metadata was
// synthesized from grant history, the rewritten ledger cookie.
type IssueResult struct {
	Status           AccessStatus
	PurchaseID       string
	TestID           string
	ReportToken      string
	SetCreditsCookie string
	PaywallURL       string
}

// Issue re-mints the report access token after the original cookie expired.
// A view already paid for (its report key is recorded) qualifies even at
// zero balance. When the ledger predates last-grant tracking, the newest
// grant id stands in with single/base purchase metadata.
func (o *Orchestrator) Issue(req IssueRequest) (*IssueResult, error) {
	testID := o.resolveTestID(req.TenantID, req.Slug)
	if testID == "" {
		return &IssueResult{Status: AccessNotFound}, nil
	}

	snapshot := o.tokens.VerifyResultSnapshot(req.ResultCookie)
	if snapshot == nil {
		return &IssueResult{Status: AccessLocked}, nil
	}
	if snapshot.TenantID != req.TenantID || snapshot.TestID != testID {
		return &IssueResult{Status: AccessForbidden}, nil
	}

	state := o.ledger.Parse(req.CreditsCookie, req.TenantID)
	reportKey := credits.ReportKey(req.TenantID, testID, snapshot.SessionID)

	hasAccess := state.CreditsRemaining > 0
	for _, key := range state.ConsumedReportKeys {
		if key == reportKey {
			hasAccess = true
			break
		}
	}
	if !hasAccess {
		return &IssueResult{
			Status:     AccessPaymentRequired,
			PaywallURL: "/t/" + req.Slug + "/pay",
		}, nil
	}

	grant := state.LastGrant
	setCookie := ""
	if grant == nil && len(state.GrantIDs) > 0 {
		state = o.ledger.SetLastGrant(state, &credits.GrantMetadata{
			GrantID:        state.GrantIDs[0],
			ProductType:    "single",
			PricingVariant: "base",
		})
		grant = state.LastGrant
		signed, err := o.ledger.Serialize(state)
		if err != nil {
			return nil, err
		}
		setCookie = signed
	}
	if grant == nil {
		return &IssueResult{Status: AccessNoGrant}, nil
	}

	issuedAt := time.Now().UTC()
	token, err := o.tokens.SignReportToken(capability.ReportTokenPayload{
		PurchaseID:     grant.GrantID,
		TenantID:       req.TenantID,
		TestID:         testID,
		SessionID:      snapshot.SessionID,
		DistinctID:     snapshot.DistinctID,
		ProductType:    grant.ProductType,
		PricingVariant: grant.PricingVariant,
		IssuedAtUTC:    issuedAt.Format(time.RFC3339),
		ExpiresAtUTC:   issuedAt.Add(capability.ReportTokenTTL).Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	return &IssueResult{
		Status:           AccessOK,
		PurchaseID:       grant.GrantID,
		TestID:           testID,
		ReportToken:      token,
		SetCreditsCookie: setCookie,
	}, nil
}
