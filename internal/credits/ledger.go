// Package credits implements the anonymous credits ledger: a single signed
// browser cookie holding per-tenant balances, a replay-safe record of which
// reports were already paid for, and an idempotent grant history backed by a
// Bloom filter for grants that have aged out of the exact list.
package credits

import (
	"strings"
	"time"

	"github.com/quizforge/quizforge/internal/capability"
)

// Cookie is the name of the credits ledger cookie.
const Cookie = "QF_CREDITS"

// CookieTTL is how long the ledger cookie is asked to live client-side.
const CookieTTL = 365 * 24 * time.Hour

const (
	cookieVersion = 1

	// ConsumedReportsCap bounds the exact list of already-paid report keys.
	ConsumedReportsCap = 25
	// GrantHistoryCap bounds the exact list of applied grant ids; older
	// grants survive only in the Bloom filter.
	GrantHistoryCap = 20
)

// GrantMetadata describes the most recent credit grant for a tenant, kept so
// a lost report token can be re-issued against the last purchase.
type GrantMetadata struct {
	GrantID        string `json:"grant_id"`
	OfferKey       string `json:"offer_key,omitempty"`
	ProductType    string `json:"product_type"`
	PricingVariant string `json:"pricing_variant"`
}

type tenantEntry struct {
	CreditsRemaining   int            `json:"credits_remaining"`
	ConsumedReportKeys []string       `json:"consumed_report_keys"`
	GrantIDs           []string       `json:"grant_ids"`
	GrantFilter        string         `json:"grant_filter,omitempty"`
	LastGrant          *GrantMetadata `json:"last_grant,omitempty"`
}

type cookiePayload struct {
	V       int                    `json:"v"`
	Tenants map[string]tenantEntry `json:"tenants"`
}

// State is a tenant-scoped view of the full cookie payload. All mutating
// operations return a new State; the receiver is never modified, so handlers
// can branch on intermediate states freely.
type State struct {
	TenantID           string
	CreditsRemaining   int
	ConsumedReportKeys []string
	GrantIDs           []string
	GrantFilter        string
	LastGrant          *GrantMetadata

	payload cookiePayload
}

// Ledger signs, parses, and transforms credits cookies under one secret.
type Ledger struct {
	codec *capability.Codec
}

// NewLedger creates a ledger bound to the credits cookie secret.
func NewLedger(secret []byte) *Ledger {
	return &Ledger{codec: capability.NewCodec(secret)}
}

// ReportKey builds the consumption key for one report.
func ReportKey(tenantID, testID, sessionID string) string {
	return tenantID + ":" + testID + ":" + sessionID
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}

// dedupeAndCap keeps the first occurrence of each non-blank value, in order,
// up to cap entries.
func dedupeAndCap(values []string, limit int) []string {
	result := make([]string, 0, min(len(values), limit))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		result = append(result, v)
		seen[v] = struct{}{}
		if len(result) >= limit {
			break
		}
	}
	return result
}

func sanitizeGrantMetadata(meta *GrantMetadata) *GrantMetadata {
	if meta == nil {
		return nil
	}
	grantID := normalize(meta.GrantID)
	productType := normalize(meta.ProductType)
	pricingVariant := normalize(meta.PricingVariant)
	if grantID == "" || productType == "" || pricingVariant == "" {
		return nil
	}
	return &GrantMetadata{
		GrantID:        grantID,
		OfferKey:       normalize(meta.OfferKey),
		ProductType:    productType,
		PricingVariant: pricingVariant,
	}
}

func (l *Ledger) sanitizeEntry(entry tenantEntry) tenantEntry {
	credits := entry.CreditsRemaining
	if credits < 0 {
		credits = 0
	}
	return tenantEntry{
		CreditsRemaining:   credits,
		ConsumedReportKeys: dedupeAndCap(entry.ConsumedReportKeys, ConsumedReportsCap),
		GrantIDs:           dedupeAndCap(entry.GrantIDs, GrantHistoryCap),
		GrantFilter:        encodeFilter(decodeFilter(entry.GrantFilter)),
		LastGrant:          sanitizeGrantMetadata(entry.LastGrant),
	}
}

func (l *Ledger) sanitizePayload(payload cookiePayload) cookiePayload {
	tenants := make(map[string]tenantEntry, len(payload.Tenants))
	for tenantID, entry := range payload.Tenants {
		tenantID = normalize(tenantID)
		if tenantID == "" {
			continue
		}
		tenants[tenantID] = l.sanitizeEntry(entry)
	}
	return cookiePayload{V: cookieVersion, Tenants: tenants}
}

func emptyPayload() cookiePayload {
	return cookiePayload{V: cookieVersion, Tenants: map[string]tenantEntry{}}
}

// Parse decodes and verifies a credits cookie and materializes the state for
// tenantID. Any structural problem, a bad signature, corrupt JSON, an
// unexpected shape, or a version other than the current one yields a fresh
// empty state; a corrupt ledger must never block a request, it only forfeits
// its own history.
func (l *Ledger) Parse(cookieValue, tenantID string) State {
	tenantID = normalize(tenantID)
	if tenantID == "" {
		tenantID = "tenant-unknown"
	}

	payload := emptyPayload()
	if raw := normalize(cookieValue); raw != "" {
		var decoded cookiePayload
		if l.codec.Decode(raw, &decoded) && decoded.V == cookieVersion {
			payload = l.sanitizePayload(decoded)
		}
	}
	return l.buildState(payload, tenantID, payload.Tenants[tenantID])
}

// Serialize re-signs the full cookie payload behind state.
func (l *Ledger) Serialize(state State) (string, error) {
	return l.codec.Sign(l.sanitizePayload(state.payload))
}

func (l *Ledger) buildState(payload cookiePayload, tenantID string, entry tenantEntry) State {
	entry = l.sanitizeEntry(entry)

	tenants := make(map[string]tenantEntry, len(payload.Tenants)+1)
	for id, e := range payload.Tenants {
		tenants[id] = e
	}
	tenants[tenantID] = entry
	next := cookiePayload{V: payload.V, Tenants: tenants}

	return State{
		TenantID:           tenantID,
		CreditsRemaining:   entry.CreditsRemaining,
		ConsumedReportKeys: entry.ConsumedReportKeys,
		GrantIDs:           entry.GrantIDs,
		GrantFilter:        entry.GrantFilter,
		LastGrant:          entry.LastGrant,
		payload:            next,
	}
}

func (l *Ledger) withEntry(state State, entry tenantEntry) State {
	return l.buildState(state.payload, state.TenantID, entry)
}

// HasGrant reports whether grantID was already applied for this tenant,
// either in the exact list or probabilistically via the Bloom filter. The
// filter can only over-report membership, so a used grant is never applied
// twice.
func (l *Ledger) HasGrant(state State, grantID string) bool {
	grantID = normalize(grantID)
	if grantID == "" {
		return false
	}
	for _, id := range state.GrantIDs {
		if id == grantID {
			return true
		}
	}
	return l.filterContains(decodeFilter(state.GrantFilter), grantID)
}

// Grant applies a credit grant idempotently. A non-positive amount or an
// already-known grant id leaves the state unchanged.
func (l *Ledger) Grant(state State, amount int, grantID string) State {
	if amount <= 0 {
		return state
	}

	grantID = normalize(grantID)
	if grantID != "" && l.HasGrant(state, grantID) {
		return state
	}

	grantIDs := state.GrantIDs
	filter := state.GrantFilter
	if grantID != "" {
		grantIDs = dedupeAndCap(append([]string{grantID}, state.GrantIDs...), GrantHistoryCap)
		filter = encodeFilter(l.filterAdd(decodeFilter(state.GrantFilter), grantID))
	}

	return l.withEntry(state, tenantEntry{
		CreditsRemaining:   state.CreditsRemaining + amount,
		ConsumedReportKeys: state.ConsumedReportKeys,
		GrantIDs:           grantIDs,
		GrantFilter:        filter,
		LastGrant:          state.LastGrant,
	})
}

// SetLastGrant records the metadata of the most recent grant. Incomplete
// metadata is ignored rather than clobbering a previous record.
func (l *Ledger) SetLastGrant(state State, meta *GrantMetadata) State {
	sanitized := sanitizeGrantMetadata(meta)
	if sanitized == nil {
		return state
	}
	return l.withEntry(state, tenantEntry{
		CreditsRemaining:   state.CreditsRemaining,
		ConsumedReportKeys: state.ConsumedReportKeys,
		GrantIDs:           state.GrantIDs,
		GrantFilter:        state.GrantFilter,
		LastGrant:          sanitized,
	})
}

// Consume spends one credit for reportKey. Exactly one of three outcomes
// occurs: the key was already paid for (no charge), the balance is empty
// (no charge), or the balance drops by one and the key is recorded.
func (l *Ledger) Consume(state State, reportKey string) (State, bool) {
	reportKey = normalize(reportKey)
	if reportKey == "" {
		return state, false
	}
	for _, key := range state.ConsumedReportKeys {
		if key == reportKey {
			return state, false
		}
	}
	if state.CreditsRemaining <= 0 {
		return state, false
	}

	next := l.withEntry(state, tenantEntry{
		CreditsRemaining:   state.CreditsRemaining - 1,
		ConsumedReportKeys: dedupeAndCap(append([]string{reportKey}, state.ConsumedReportKeys...), ConsumedReportsCap),
		GrantIDs:           state.GrantIDs,
		GrantFilter:        state.GrantFilter,
		LastGrant:          state.LastGrant,
	})
	return next, true
}
