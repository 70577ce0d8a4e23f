package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/store"
)

// ScoringVersion tags artifacts with the normalization rules that produced
// them. Bump it when the normalization math changes.
const ScoringVersion = "v1"

const topScaleCount = 3

// BriefScale is one scale's raw and normalized score.
type BriefScale struct {
	ScaleID             string  `json:"scale_id"`
	RawScore            float64 `json:"raw_score"`
	NormalizedScore0100 int     `json:"normalized_score_0_100"`
}

// Brief is the deterministic summary of one attempt that gets embedded
// verbatim in the generation prompt. Two builds from the same inputs must be
// byte-identical once serialized, so every list in it has a fixed order.
type Brief struct {
	TenantID      string       `json:"tenant_id"`
	TestID        string       `json:"test_id"`
	Slug          string       `json:"slug"`
	Locale        string       `json:"locale"`
	ComputedAtUTC string       `json:"computed_at_utc"`
	BandID        string       `json:"band_id"`
	TotalScore    float64      `json:"total_score"`
	Scales        []BriefScale `json:"scales"`
	TopScales     []BriefScale `json:"top_scales"`
}

// BuildBrief normalizes every scored scale and picks the top three. Scales
// are ordered lexicographically; the top list orders by normalized score
// descending with lexicographic tiebreak.
func BuildBrief(spec *content.TestSpec, attempt *store.AttemptSummary) (*Brief, error) {
	if attempt.TestID != spec.TestID {
		return nil, fmt.Errorf("attempt test_id %s does not match spec %s", attempt.TestID, spec.TestID)
	}
	computedAt, err := time.Parse(time.RFC3339, attempt.ComputedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid attempt timestamp: %w", err)
	}

	scaleIDs := make([]string, len(spec.Scoring.Scales))
	copy(scaleIDs, spec.Scoring.Scales)
	sort.Strings(scaleIDs)

	scales := make([]BriefScale, 0, len(scaleIDs))
	for _, scaleID := range scaleIDs {
		raw, ok := attempt.ScaleScores[scaleID]
		if !ok {
			return nil, fmt.Errorf("missing scale score for %s", scaleID)
		}
		normalized, err := NormalizeScaleScore(spec, scaleID, raw)
		if err != nil {
			return nil, err
		}
		scales = append(scales, BriefScale{
			ScaleID:             scaleID,
			RawScore:            raw,
			NormalizedScore0100: normalized,
		})
	}

	top := make([]BriefScale, len(scales))
	copy(top, scales)
	sort.Slice(top, func(i, j int) bool {
		if top[i].NormalizedScore0100 != top[j].NormalizedScore0100 {
			return top[i].NormalizedScore0100 > top[j].NormalizedScore0100
		}
		return top[i].ScaleID < top[j].ScaleID
	})
	if len(top) > topScaleCount {
		top = top[:topScaleCount]
	}

	return &Brief{
		TenantID:      attempt.TenantID,
		TestID:        spec.TestID,
		Slug:          spec.Slug,
		Locale:        attempt.Locale,
		ComputedAtUTC: computedAt.UTC().Format(time.RFC3339),
		BandID:        attempt.BandID,
		TotalScore:    attempt.TotalScore,
		Scales:        scales,
		TopScales:     top,
	}, nil
}
