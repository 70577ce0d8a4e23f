package report

import (
	"encoding/json"
	"strings"
)

// DefaultStyleID is applied when no style is configured for a tenant.
const DefaultStyleID = "balanced"

// Prompt is the system/user message pair sent to the provider.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt embeds the brief verbatim. The brief is already deterministic,
// and json.Marshal orders struct fields by declaration, so the same brief
// always produces the same prompt bytes.
func BuildPrompt(brief *Brief, styleID string) (Prompt, error) {
	styleID = strings.TrimSpace(styleID)
	if styleID == "" {
		styleID = DefaultStyleID
	}

	briefJSON, err := json.MarshalIndent(brief, "", "  ")
	if err != nil {
		return Prompt{}, err
	}

	system := strings.Join([]string{
		"You generate quiz result reports from structured input.",
		"Use the provided brief only.",
		"Do not invent user identity, history, or personal data.",
		"Do not use medical diagnosis, treatment, or clinical language.",
		"Respond in the same language as brief.locale (" + brief.Locale + ").",
		"Output must be valid JSON matching schema " + SchemaName + ".",
		"Keep writing concise, specific, and actionable.",
		"Apply style_id " + styleID + ".",
		"Return JSON only.",
	}, "\n")

	user := strings.Join([]string{
		"Generate a report JSON object for this brief.",
		"schema_name: " + SchemaName,
		"test_id: " + brief.TestID,
		"locale: " + brief.Locale,
		"style_id: " + styleID,
		"brief_json:",
		string(briefJSON),
	}, "\n")

	return Prompt{System: system, User: user}, nil
}
