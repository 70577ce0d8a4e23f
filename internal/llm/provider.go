// Package llm holds the thin client for structured report generation.
// Only the Responses-style structured JSON call is wrapped; everything else
// about the provider API is out of scope.
package llm

import (
	"context"
	"encoding/json"
)

// StructuredRequest asks the provider for a single JSON document conforming
// to the supplied schema.
type StructuredRequest struct {
	Model           string
	System          string
	User            string
	SchemaName      string
	Schema          map[string]any
	MaxOutputTokens int
}

// Client generates structured JSON completions. Implementations must honor
// ctx cancellation; the caller owns the deadline.
type Client interface {
	Name() string
	CreateStructuredJSON(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
}
