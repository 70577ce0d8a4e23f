package capability

import (
	"math"
	"strings"
)

// ResultCookie is the cookie name carrying the signed result snapshot.
const ResultCookie = "QF_RESULT"

// ResultSnapshot is the signed score/band snapshot a test session leaves in
// the browser. It carries no expiry; its validity is structural only.
type ResultSnapshot struct {
	TenantID      string             `json:"tenant_id"`
	SessionID     string             `json:"session_id"`
	DistinctID    string             `json:"distinct_id"`
	TestID        string             `json:"test_id"`
	ComputedAtUTC string             `json:"computed_at_utc"`
	BandID        string             `json:"band_id"`
	ScaleScores   map[string]float64 `json:"scale_scores"`
}

// SignResultSnapshot mints the result snapshot cookie value.
func (t *Tokens) SignResultSnapshot(s ResultSnapshot) (string, error) {
	return t.result.Sign(s)
}

// VerifyResultSnapshot validates a result snapshot cookie. Nil means absent.
func (t *Tokens) VerifyResultSnapshot(value string) *ResultSnapshot {
	var s ResultSnapshot
	if !t.result.Decode(value, &s) {
		return nil
	}
	if !s.valid() {
		return nil
	}
	return &s
}

func (s *ResultSnapshot) valid() bool {
	for _, field := range []string{
		s.TenantID, s.SessionID, s.DistinctID, s.TestID, s.ComputedAtUTC, s.BandID,
	} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return validScaleScores(s.ScaleScores)
}

func validScaleScores(scores map[string]float64) bool {
	if len(scores) == 0 {
		return false
	}
	for scaleID, score := range scores {
		if strings.TrimSpace(scaleID) == "" {
			return false
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return false
		}
	}
	return true
}
