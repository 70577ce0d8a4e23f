package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultStripeBaseURL = "https://api.stripe.com/v1"

// CheckoutSession is the slice of a retrieved Stripe checkout session the
// entitlement flow reads.
type CheckoutSession struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid reports whether the session settled. Zero-amount sessions report
// no_payment_required instead of paid.
func (s *CheckoutSession) Paid() bool {
	paymentStatus := strings.ToLower(strings.TrimSpace(s.PaymentStatus))
	status := strings.ToLower(strings.TrimSpace(s.Status))
	return paymentStatus == "paid" || paymentStatus == "no_payment_required" || status == "complete"
}

// SessionRetriever fetches checkout sessions by id.
type SessionRetriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}

// SessionClient retrieves checkout sessions over the Stripe REST API.
type SessionClient struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewSessionClient creates a client. baseURL may be empty for the public API.
func NewSessionClient(secretKey, baseURL string) *SessionClient {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultStripeBaseURL
	}
	return &SessionClient{
		secretKey: secretKey,
		baseURL:   baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type stripeErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// RetrieveSession fetches one checkout session.
func (c *SessionClient) RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if strings.TrimSpace(c.secretKey) == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("stripe: session id is required")
	}

	endpoint := c.baseURL + "/checkout/sessions/" + url.PathEscape(sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stripe: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("stripe: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var parsed stripeErrorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return nil, fmt.Errorf("stripe: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("stripe: status %d", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, errors.New("stripe: response was not valid JSON")
	}
	return &session, nil
}
