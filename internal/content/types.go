// Package content loads and serves the per-tenant test catalog: versioned
// test specs with localized copy, scoring weights, and result bands, read
// from JSON files on disk and reloaded when they change.
package content

import "strings"

// AllowedLocales are the locale tags content may ship in, in fallback order.
var AllowedLocales = []string{"en", "es", "pt-BR"}

// FallbackLocale is used when a requested locale has no copy.
const FallbackLocale = "en"

var localeCanonical = map[string]string{
	"en":    "en",
	"es":    "es",
	"pt-br": "pt-BR",
}

// NormalizeLocale canonicalizes a locale tag. It returns "" for anything
// outside the allowed set.
func NormalizeLocale(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return localeCanonical[strings.ToLower(trimmed)]
}

// LocaleStrings is the per-locale copy of one test.
type LocaleStrings struct {
	Title            string `json:"title"`
	ShortDescription string `json:"short_description"`
	Intro            string `json:"intro"`
	PaywallHeadline  string `json:"paywall_headline"`
	ReportTitle      string `json:"report_title"`
}

// QuestionOption is one selectable answer, labeled per locale.
type QuestionOption struct {
	ID    string            `json:"id"`
	Label map[string]string `json:"label"`
}

// TestQuestion is a single-choice question with per-locale prompts.
type TestQuestion struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Prompt  map[string]string `json:"prompt"`
	Options []QuestionOption  `json:"options"`
}

// TestScoring maps option ids to per-scale integer weights.
type TestScoring struct {
	Scales        []string                  `json:"scales"`
	OptionWeights map[string]map[string]int `json:"option_weights"`
}

// ResultBandCopy is the localized copy for one score band.
type ResultBandCopy struct {
	Headline string   `json:"headline"`
	Summary  string   `json:"summary"`
	Bullets  []string `json:"bullets"`
}

// ResultBand maps an inclusive total-score range to result copy.
type ResultBand struct {
	BandID            string                    `json:"band_id"`
	MinScoreInclusive int                       `json:"min_score_inclusive"`
	MaxScoreInclusive int                       `json:"max_score_inclusive"`
	Copy              map[string]ResultBandCopy `json:"copy"`
}

// TestSpec is one versioned test definition as stored on disk.
type TestSpec struct {
	TestID      string                   `json:"test_id"`
	Slug        string                   `json:"slug"`
	Version     int                      `json:"version"`
	Category    string                   `json:"category"`
	Locales     map[string]LocaleStrings `json:"locales"`
	Questions   []TestQuestion           `json:"questions"`
	Scoring     TestScoring              `json:"scoring"`
	ResultBands []ResultBand             `json:"result_bands"`
}

// LocalizedOption is a question option flattened to one locale.
type LocalizedOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// LocalizedQuestion is a question flattened to one locale.
type LocalizedQuestion struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Prompt  string            `json:"prompt"`
	Options []LocalizedOption `json:"options"`
}

// LocalizedTest is a full test flattened to one locale for rendering.
type LocalizedTest struct {
	TestID          string              `json:"test_id"`
	Slug            string              `json:"slug"`
	Category        string              `json:"category"`
	Title           string              `json:"title"`
	Description     string              `json:"description"`
	Intro           string              `json:"intro"`
	PaywallHeadline string              `json:"paywall_headline"`
	ReportTitle     string              `json:"report_title"`
	Questions       []LocalizedQuestion `json:"questions"`
	Scoring         TestScoring         `json:"scoring"`
	ResultBands     []ResultBand        `json:"result_bands"`
	Locale          string              `json:"locale"`
}

// TestSummary is the catalog-listing view of one test.
type TestSummary struct {
	TestID   string   `json:"test_id"`
	Slug     string   `json:"slug"`
	Category string   `json:"category"`
	Locales  []string `json:"locales"`
}

// CatalogTest is one tenant-catalog entry localized for display.
type CatalogTest struct {
	TestID           string `json:"test_id"`
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	ShortDescription string `json:"short_description"`
}
