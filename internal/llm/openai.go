package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient calls the OpenAI Responses API for structured JSON output.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient creates a client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

type openaiInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiTextFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type openaiRequest struct {
	Model string               `json:"model"`
	Input []openaiInputMessage `json:"input"`
	Text  struct {
		Format openaiTextFormat `json:"format"`
	} `json:"text"`
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
}

type openaiResponse struct {
	Output []struct {
		Content []struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			OutputText string `json:"output_text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateStructuredJSON sends one structured-output request and returns the
// raw JSON document the model produced.
func (c *OpenAIClient) CreateStructuredJSON(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	for name, value := range map[string]string{
		"model":       req.Model,
		"system":      req.System,
		"user":        req.User,
		"schema name": req.SchemaName,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("openai: %s is required", name)
		}
	}

	body := openaiRequest{
		Model: req.Model,
		Input: []openaiInputMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	body.Text.Format = openaiTextFormat{
		Type:   "json_schema",
		Name:   req.SchemaName,
		Schema: req.Schema,
		Strict: true,
	}
	if req.MaxOutputTokens > 0 {
		body.MaxOutputTokens = req.MaxOutputTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.New("openai: response was not valid JSON")
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return nil, fmt.Errorf("openai: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("openai: status %d", resp.StatusCode)
	}

	outputText := extractOutputText(parsed)
	if outputText == "" {
		return nil, errors.New("openai: response did not include output text")
	}
	if !json.Valid([]byte(outputText)) {
		return nil, errors.New("openai: output text was not valid JSON")
	}
	return json.RawMessage(outputText), nil
}

func extractOutputText(resp openaiResponse) string {
	var parts []string
	for _, item := range resp.Output {
		for _, content := range item.Content {
			if content.Type != "output_text" {
				continue
			}
			if content.OutputText != "" {
				parts = append(parts, content.OutputText)
				continue
			}
			if content.Text != "" {
				parts = append(parts, content.Text)
			}
		}
	}
	return strings.Join(parts, "")
}
