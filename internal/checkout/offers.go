// Package checkout turns completed Stripe checkouts into entitlements: the
// webhook pre-enqueues the report job, and the confirm flow grants credits
// and mints the report access token for the buyer's browser.
package checkout

import "sort"

// Offer is one purchasable credit bundle. The offer table is the single
// source of truth for how many credits a purchase grants; a credits_granted
// number in session metadata only applies when the offer key is unknown.
type Offer struct {
	OfferKey       string
	ProductType    string
	CreditsGranted int
	PricingVariant string
}

// DefaultOfferKey is the offer presented when a tenant configures none.
const DefaultOfferKey = "single_intro_149"

var offers = map[string]Offer{
	"single_intro_149": {
		OfferKey:       "single_intro_149",
		ProductType:    "single",
		CreditsGranted: 1,
		PricingVariant: "intro",
	},
	"single_base_299": {
		OfferKey:       "single_base_299",
		ProductType:    "single",
		CreditsGranted: 1,
		PricingVariant: "base",
	},
	"pack5": {
		OfferKey:       "pack5",
		ProductType:    "pack_5",
		CreditsGranted: 5,
		PricingVariant: "base",
	},
	"pack10": {
		OfferKey:       "pack10",
		ProductType:    "pack_10",
		CreditsGranted: 10,
		PricingVariant: "base",
	},
}

// ListOffers returns every configured offer sorted by key.
func ListOffers() []Offer {
	keys := make([]string, 0, len(offers))
	for key := range offers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]Offer, 0, len(keys))
	for _, key := range keys {
		out = append(out, offers[key])
	}
	return out
}

// OfferByKey looks up a configured offer.
func OfferByKey(key string) (Offer, bool) {
	offer, ok := offers[key]
	return offer, ok
}

// IsOfferKey reports whether key names a configured offer.
func IsOfferKey(key string) bool {
	_, ok := offers[key]
	return ok
}
