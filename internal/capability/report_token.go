package capability

import (
	"strings"
	"time"
)

// ReportTokenCookie is the cookie name carrying the report access token.
const ReportTokenCookie = "QF_REPORT_TOKEN"

// ReportTokenTTL is how long a freshly minted report access token stays valid.
const ReportTokenTTL = 24 * time.Hour

// ReportTokenPayload is the purchase-scoped report access capability.
type ReportTokenPayload struct {
	PurchaseID     string `json:"purchase_id"`
	TenantID       string `json:"tenant_id"`
	TestID         string `json:"test_id"`
	SessionID      string `json:"session_id"`
	DistinctID     string `json:"distinct_id"`
	ProductType    string `json:"product_type"`
	PricingVariant string `json:"pricing_variant"`
	IssuedAtUTC    string `json:"issued_at_utc"`
	ExpiresAtUTC   string `json:"expires_at_utc"`
}

// Tokens signs and verifies all capability token kinds. The clock is
// injectable so expiry behavior is testable.
type Tokens struct {
	report *Codec
	result *Codec
	link   *Codec
	now    func() time.Time
}

// NewTokens builds a token signer/verifier over the resolved secrets.
func NewTokens(secrets Secrets) *Tokens {
	return &Tokens{
		report: NewCodec(secrets.ReportToken),
		result: NewCodec(secrets.ResultCookie),
		link:   NewCodec(secrets.ReportLink),
		now:    time.Now,
	}
}

// WithClock returns a copy of t that reads time from now. Test hook.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	clone := *t
	clone.now = now
	return &clone
}

// SignReportToken mints a report access token from the payload.
func (t *Tokens) SignReportToken(p ReportTokenPayload) (string, error) {
	return t.report.Sign(p)
}

// VerifyReportToken validates a report access token. It returns nil on any
// failure: bad signature, corrupt JSON, missing fields, or expiry. Callers
// must treat nil as "token absent".
func (t *Tokens) VerifyReportToken(token string) *ReportTokenPayload {
	var p ReportTokenPayload
	if !t.report.Decode(token, &p) {
		return nil
	}
	if !p.valid() {
		return nil
	}
	expiresAt, err := time.Parse(time.RFC3339, p.ExpiresAtUTC)
	if err != nil || !t.now().Before(expiresAt) {
		return nil
	}
	return &p
}

func (p *ReportTokenPayload) valid() bool {
	for _, field := range []string{
		p.PurchaseID, p.TenantID, p.TestID, p.SessionID, p.DistinctID,
		p.ProductType, p.PricingVariant, p.IssuedAtUTC, p.ExpiresAtUTC,
	} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}

	issuedAt, err := time.Parse(time.RFC3339, p.IssuedAtUTC)
	if err != nil {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, p.ExpiresAtUTC)
	if err != nil {
		return false
	}
	return !expiresAt.Before(issuedAt)
}
