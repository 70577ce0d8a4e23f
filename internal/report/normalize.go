// Package report turns a completed attempt into a generated report: score
// normalization, the deterministic brief fed to the model, structured output
// validation, and the orchestration that decides when generation runs.
package report

import (
	"fmt"
	"math"

	"github.com/quizforge/quizforge/internal/content"
)

const (
	neutralNormalizedScore = 50
	normalizedMin          = 0
	normalizedMax          = 100
)

// ScaleBounds is the achievable raw-score range for one scale.
type ScaleBounds struct {
	MinPossible float64
	MaxPossible float64
}

func scaleWeight(spec *content.TestSpec, scaleID, optionID string) (float64, error) {
	weights, ok := spec.Scoring.OptionWeights[optionID]
	if !ok {
		return 0, fmt.Errorf("missing weights for option %s", optionID)
	}
	return float64(weights[scaleID]), nil
}

// ScaleNormalizationBounds sums each question's best and worst contribution
// to scaleID. Every question contributes exactly one option's weight, so the
// per-question min/max add up to the achievable range.
func ScaleNormalizationBounds(spec *content.TestSpec, scaleID string) (ScaleBounds, error) {
	var minPossible, maxPossible float64
	for _, question := range spec.Questions {
		questionMin := math.Inf(1)
		questionMax := math.Inf(-1)
		for _, option := range question.Options {
			weight, err := scaleWeight(spec, scaleID, option.ID)
			if err != nil {
				return ScaleBounds{}, err
			}
			questionMin = math.Min(questionMin, weight)
			questionMax = math.Max(questionMax, weight)
		}
		if math.IsInf(questionMin, 0) || math.IsInf(questionMax, 0) {
			return ScaleBounds{}, fmt.Errorf("question %s has no options", question.ID)
		}
		minPossible += questionMin
		maxPossible += questionMax
	}
	return ScaleBounds{MinPossible: minPossible, MaxPossible: maxPossible}, nil
}

// NormalizeScaleScore rescales rawScore into [0,100] against the achievable
// range for scaleID. A degenerate range maps everything to the neutral 50.
func NormalizeScaleScore(spec *content.TestSpec, scaleID string, rawScore float64) (int, error) {
	if math.IsNaN(rawScore) || math.IsInf(rawScore, 0) {
		return 0, fmt.Errorf("invalid raw score for scale %s", scaleID)
	}

	bounds, err := ScaleNormalizationBounds(spec, scaleID)
	if err != nil {
		return 0, err
	}
	if bounds.MaxPossible == bounds.MinPossible {
		return neutralNormalizedScore, nil
	}

	normalized := int(math.Round(
		(rawScore - bounds.MinPossible) / (bounds.MaxPossible - bounds.MinPossible) * normalizedMax))
	if normalized < normalizedMin {
		normalized = normalizedMin
	}
	if normalized > normalizedMax {
		normalized = normalizedMax
	}
	return normalized, nil
}
