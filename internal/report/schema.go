package report

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SchemaName identifies the structured output contract sent to the provider.
const SchemaName = "quiz_report_v1"

// PromptVersion tags artifacts with the prompt that produced them.
const PromptVersion = "v1"

// ReportSummary is the headline block of a generated report.
type ReportSummary struct {
	Headline string   `json:"headline"`
	Bullets  []string `json:"bullets"`
}

// ReportSection is one body section of a generated report.
type ReportSection struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Bullets []string `json:"bullets"`
}

// ActionPlanItem is one recommended action with concrete steps.
type ActionPlanItem struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

// ReportJSON is the full generated report document.
type ReportJSON struct {
	ReportTitle string           `json:"report_title"`
	Summary     ReportSummary    `json:"summary"`
	Sections    []ReportSection  `json:"sections"`
	ActionPlan  []ActionPlanItem `json:"action_plan"`
	Disclaimers []string         `json:"disclaimers"`
}

// ReportSchema is the JSON Schema enforced on the provider side. Validation
// below re-checks it locally so a misbehaving provider cannot persist junk.
func ReportSchema() map[string]any {
	stringArray := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"report_title", "summary", "sections", "action_plan", "disclaimers"},
		"properties": map[string]any{
			"report_title": map[string]any{"type": "string"},
			"summary": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"headline", "bullets"},
				"properties": map[string]any{
					"headline": map[string]any{"type": "string"},
					"bullets":  stringArray,
				},
			},
			"sections": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"id", "title", "body", "bullets"},
					"properties": map[string]any{
						"id":      map[string]any{"type": "string"},
						"title":   map[string]any{"type": "string"},
						"body":    map[string]any{"type": "string"},
						"bullets": stringArray,
					},
				},
			},
			"action_plan": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"title", "steps"},
					"properties": map[string]any{
						"title": map[string]any{"type": "string"},
						"steps": stringArray,
					},
				},
			},
			"disclaimers": stringArray,
		},
	}
}

func exactKeys(raw json.RawMessage, expected ...string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("expected object: %w", err)
	}
	if len(fields) != len(expected) {
		return nil, fmt.Errorf("expected keys %v", expected)
	}
	for _, key := range expected {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("missing key %s", key)
		}
	}
	return fields, nil
}

func parseString(raw json.RawMessage, key string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func parseStringArray(raw json.RawMessage, key string) ([]string, error) {
	// json.Unmarshal accepts null into a slice; only a real array passes.
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, fmt.Errorf("%s must be an array", key)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s must be an array", key)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, err := parseString(item, fmt.Sprintf("%s[%d]", key, i))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseReportJSON strictly validates a structured-output document: every
// object must carry exactly its expected keys with the expected types.
// Anything else is rejected so it never reaches the artifact table.
func ParseReportJSON(raw json.RawMessage) (*ReportJSON, error) {
	fields, err := exactKeys(raw, "report_title", "summary", "sections", "action_plan", "disclaimers")
	if err != nil {
		return nil, err
	}

	var doc ReportJSON
	if doc.ReportTitle, err = parseString(fields["report_title"], "report_title"); err != nil {
		return nil, err
	}

	summaryFields, err := exactKeys(fields["summary"], "headline", "bullets")
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if doc.Summary.Headline, err = parseString(summaryFields["headline"], "summary.headline"); err != nil {
		return nil, err
	}
	if doc.Summary.Bullets, err = parseStringArray(summaryFields["bullets"], "summary.bullets"); err != nil {
		return nil, err
	}

	var sections []json.RawMessage
	if err := json.Unmarshal(fields["sections"], &sections); err != nil {
		return nil, fmt.Errorf("sections must be an array")
	}
	doc.Sections = make([]ReportSection, 0, len(sections))
	for i, rawSection := range sections {
		prefix := fmt.Sprintf("sections[%d]", i)
		sectionFields, err := exactKeys(rawSection, "id", "title", "body", "bullets")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prefix, err)
		}
		var section ReportSection
		if section.ID, err = parseString(sectionFields["id"], prefix+".id"); err != nil {
			return nil, err
		}
		if section.Title, err = parseString(sectionFields["title"], prefix+".title"); err != nil {
			return nil, err
		}
		if section.Body, err = parseString(sectionFields["body"], prefix+".body"); err != nil {
			return nil, err
		}
		if section.Bullets, err = parseStringArray(sectionFields["bullets"], prefix+".bullets"); err != nil {
			return nil, err
		}
		doc.Sections = append(doc.Sections, section)
	}

	var planItems []json.RawMessage
	if err := json.Unmarshal(fields["action_plan"], &planItems); err != nil {
		return nil, fmt.Errorf("action_plan must be an array")
	}
	doc.ActionPlan = make([]ActionPlanItem, 0, len(planItems))
	for i, rawItem := range planItems {
		prefix := fmt.Sprintf("action_plan[%d]", i)
		itemFields, err := exactKeys(rawItem, "title", "steps")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prefix, err)
		}
		var item ActionPlanItem
		if item.Title, err = parseString(itemFields["title"], prefix+".title"); err != nil {
			return nil, err
		}
		if item.Steps, err = parseStringArray(itemFields["steps"], prefix+".steps"); err != nil {
			return nil, err
		}
		doc.ActionPlan = append(doc.ActionPlan, item)
	}

	if doc.Disclaimers, err = parseStringArray(fields["disclaimers"], "disclaimers"); err != nil {
		return nil, err
	}
	return &doc, nil
}
