package checkout

import (
	"strconv"
	"strings"
)

// SessionMetadata is the entitlement slice of a checkout session's metadata.
// Checkout start stamps these keys on the session; confirm and the webhook
// read them back.
type SessionMetadata struct {
	PurchaseID     string
	TenantID       string
	TestID         string
	SessionID      string
	DistinctID     string
	Locale         string
	ProductType    string
	PricingVariant string
	OfferKey       string
	CreditsGranted int
}

// ParseSessionMetadata extracts the entitlement fields from raw session
// metadata. Unknown keys are ignored; a malformed credits_granted reads as 0.
func ParseSessionMetadata(raw map[string]string) SessionMetadata {
	get := func(key string) string {
		return strings.TrimSpace(raw[key])
	}
	meta := SessionMetadata{
		PurchaseID:     get("purchase_id"),
		TenantID:       get("tenant_id"),
		TestID:         get("test_id"),
		SessionID:      get("session_id"),
		DistinctID:     get("distinct_id"),
		Locale:         get("locale"),
		ProductType:    get("product_type"),
		PricingVariant: get("pricing_variant"),
		OfferKey:       get("offer_key"),
	}
	if n, err := strconv.Atoi(get("credits_granted")); err == nil && n > 0 {
		meta.CreditsGranted = n
	}
	return meta
}

// MissingRequired lists the required fields that are absent. The offer key
// and credits_granted are optional.
func (m SessionMetadata) MissingRequired() []string {
	required := []struct {
		name  string
		value string
	}{
		{"purchase_id", m.PurchaseID},
		{"tenant_id", m.TenantID},
		{"test_id", m.TestID},
		{"session_id", m.SessionID},
		{"distinct_id", m.DistinctID},
		{"locale", m.Locale},
		{"product_type", m.ProductType},
		{"pricing_variant", m.PricingVariant},
	}
	var missing []string
	for _, field := range required {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// ResolveCreditsGranted returns how many credits this purchase grants. A
// recognized offer key always wins over the raw metadata number.
func (m SessionMetadata) ResolveCreditsGranted() int {
	if offer, ok := OfferByKey(m.OfferKey); ok {
		return offer.CreditsGranted
	}
	return m.CreditsGranted
}
