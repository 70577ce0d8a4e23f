package capability

import (
	"errors"
	"strings"
	"time"
)

// LinkTokenParam is the URL query parameter carrying a report link token.
const LinkTokenParam = "t"

var (
	// ErrLinkTokenInvalid covers every structural, signature, and field
	// failure. The routing layer surfaces it as a hard 403; unlike the cookie
	// tokens, a shared link is expected to fail loudly.
	ErrLinkTokenInvalid = errors.New("report link token invalid")
	// ErrLinkTokenExpired is returned once the embedded exp has passed.
	ErrLinkTokenExpired = errors.New("report link token expired")
)

// LinkTokenPayload is the shareable report deep link. It must be fully
// self-contained: the recipient's browser has none of the issuing browser's
// cookies, so the whole scoring snapshot rides inside the token.
type LinkTokenPayload struct {
	TenantID      string             `json:"tenant_id"`
	TestID        string             `json:"test_id"`
	ReportKey     string             `json:"report_key"`
	Locale        string             `json:"locale"`
	PurchaseID    string             `json:"purchase_id"`
	SessionID     string             `json:"session_id"`
	BandID        string             `json:"band_id"`
	ScaleScores   map[string]float64 `json:"scale_scores"`
	ComputedAtUTC string             `json:"computed_at_utc"`
	Exp           int64              `json:"exp"`
}

// IssueLinkToken mints a shareable report link token expiring at expiresAt.
func (t *Tokens) IssueLinkToken(p LinkTokenPayload, expiresAt time.Time) (string, error) {
	p.Exp = expiresAt.Unix()
	if !p.valid() {
		return "", ErrLinkTokenInvalid
	}
	return t.link.Sign(p)
}

// VerifyLinkToken validates a report link token and returns its payload.
func (t *Tokens) VerifyLinkToken(token string) (*LinkTokenPayload, error) {
	var p LinkTokenPayload
	if !t.link.Decode(token, &p) {
		return nil, ErrLinkTokenInvalid
	}
	if !p.valid() {
		return nil, ErrLinkTokenInvalid
	}
	if t.now().Unix() >= p.Exp {
		return nil, ErrLinkTokenExpired
	}
	return &p, nil
}

func (p *LinkTokenPayload) valid() bool {
	for _, field := range []string{
		p.TenantID, p.TestID, p.ReportKey, p.Locale,
		p.PurchaseID, p.SessionID, p.BandID, p.ComputedAtUTC,
	} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	if p.Exp <= 0 {
		return false
	}
	return validScaleScores(p.ScaleScores)
}
