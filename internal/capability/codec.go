// Package capability implements the signed capability tokens the platform
// hands to browsers: a purchase-scoped report access token, a result snapshot
// cookie, and a shareable report link token. All of them are self-contained
// HMAC-SHA256 credentials; there is no server-side session behind any of them.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Codec signs and verifies JSON payloads as base64url(payload).base64url(sig).
// The HMAC is computed over the encoded payload string, so the signature check
// never touches attacker-controlled JSON before the signature has passed.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec bound to one token-kind secret.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// Sign serializes payload and returns the signed token string.
func (c *Codec) Sign(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + c.signature(encoded), nil
}

// Decode verifies the token signature and unmarshals the payload into v.
// It reports false on any structural or signature failure; callers are
// responsible for field-level validation of v afterwards.
func (c *Codec) Decode(token string, v any) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}

	expected := c.signature(parts[0])
	if subtle.ConstantTimeEq(int32(len(parts[1])), int32(len(expected))) != 1 {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) != 1 {
		return false
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (c *Codec) signature(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HMACDigest exposes the raw keyed digest of data under the codec secret.
// The credits ledger derives bloom filter slices from it.
func (c *Codec) HMACDigest(data string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
