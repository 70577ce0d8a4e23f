package capability

import (
	"errors"
	"testing"
	"time"
)

func testSecrets() Secrets {
	s, err := ResolveSecrets("development", func(string) string { return "" })
	if err != nil {
		panic(err)
	}
	return s
}

func sampleReportPayload(now time.Time) ReportTokenPayload {
	return ReportTokenPayload{
		PurchaseID:     "purch_1",
		TenantID:       "acme",
		TestID:         "big-five",
		SessionID:      "sess_1",
		DistinctID:     "dist-1",
		ProductType:    "single",
		PricingVariant: "base",
		IssuedAtUTC:    now.Format(time.RFC3339),
		ExpiresAtUTC:   now.Add(ReportTokenTTL).Format(time.RFC3339),
	}
}

func TestReportTokenRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	tokens := NewTokens(testSecrets())

	signed, err := tokens.SignReportToken(sampleReportPayload(now))
	if err != nil {
		t.Fatalf("SignReportToken: %v", err)
	}

	got := tokens.VerifyReportToken(signed)
	if got == nil {
		t.Fatal("VerifyReportToken returned nil for a valid token")
	}
	if got.PurchaseID != "purch_1" || got.TenantID != "acme" {
		t.Errorf("payload = %+v", got)
	}
}

func TestReportTokenWrongSecret(t *testing.T) {
	now := time.Now().UTC()
	tokens := NewTokens(testSecrets())

	other := testSecrets()
	other.ReportToken = []byte("completely-different")
	verifier := NewTokens(other)

	signed, err := tokens.SignReportToken(sampleReportPayload(now))
	if err != nil {
		t.Fatalf("SignReportToken: %v", err)
	}
	if verifier.VerifyReportToken(signed) != nil {
		t.Fatal("token must not verify under a different secret")
	}
}

func TestReportTokenExpiry(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens(testSecrets()).WithClock(func() time.Time { return issued })

	signed, err := tokens.SignReportToken(sampleReportPayload(issued))
	if err != nil {
		t.Fatalf("SignReportToken: %v", err)
	}

	if tokens.VerifyReportToken(signed) == nil {
		t.Fatal("token should be valid at issue time")
	}

	late := NewTokens(testSecrets()).WithClock(func() time.Time {
		return issued.Add(ReportTokenTTL + time.Second)
	})
	if late.VerifyReportToken(signed) != nil {
		t.Fatal("token should be rejected after its expiry")
	}
}

func TestReportTokenRejectsIncompletePayload(t *testing.T) {
	now := time.Now().UTC()
	tokens := NewTokens(testSecrets())

	p := sampleReportPayload(now)
	p.SessionID = ""
	signed, err := tokens.report.Sign(p)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if tokens.VerifyReportToken(signed) != nil {
		t.Fatal("payload with a blank field must not verify")
	}
}

func TestResultSnapshotRoundTrip(t *testing.T) {
	tokens := NewTokens(testSecrets())

	snap := ResultSnapshot{
		TenantID:      "acme",
		SessionID:     "sess_1",
		DistinctID:    "anon_1",
		TestID:        "big-five",
		ComputedAtUTC: time.Now().UTC().Format(time.RFC3339),
		BandID:        "band-mid",
		ScaleScores:   map[string]float64{"openness": 71, "rigor": 40},
	}

	signed, err := tokens.SignResultSnapshot(snap)
	if err != nil {
		t.Fatalf("SignResultSnapshot: %v", err)
	}
	got := tokens.VerifyResultSnapshot(signed)
	if got == nil {
		t.Fatal("VerifyResultSnapshot returned nil for a valid cookie")
	}
	if got.ScaleScores["openness"] != 71 {
		t.Errorf("scale scores = %v", got.ScaleScores)
	}
}

func TestResultSnapshotRejectsBadScores(t *testing.T) {
	tokens := NewTokens(testSecrets())

	for name, scores := range map[string]map[string]float64{
		"empty":     {},
		"blank key": {" ": 10},
	} {
		snap := ResultSnapshot{
			TenantID:      "acme",
			SessionID:     "sess_1",
			DistinctID:    "anon_1",
			TestID:        "big-five",
			ComputedAtUTC: time.Now().UTC().Format(time.RFC3339),
			BandID:        "band-mid",
			ScaleScores:   scores,
		}
		signed, err := tokens.result.Sign(snap)
		if err != nil {
			t.Fatalf("%s: Sign: %v", name, err)
		}
		if tokens.VerifyResultSnapshot(signed) != nil {
			t.Errorf("%s: snapshot must not verify", name)
		}
	}
}

func TestLinkTokenRoundTripAndExpiry(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens(testSecrets()).WithClock(func() time.Time { return issued })

	payload := LinkTokenPayload{
		TenantID:      "acme",
		TestID:        "big-five",
		ReportKey:     "acme:big-five:sess_1",
		Locale:        "en",
		PurchaseID:    "purch_1",
		SessionID:     "sess_1",
		BandID:        "band-mid",
		ScaleScores:   map[string]float64{"openness": 71},
		ComputedAtUTC: issued.Format(time.RFC3339),
	}

	signed, err := tokens.IssueLinkToken(payload, issued.Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueLinkToken: %v", err)
	}

	got, err := tokens.VerifyLinkToken(signed)
	if err != nil {
		t.Fatalf("VerifyLinkToken: %v", err)
	}
	if got.ReportKey != payload.ReportKey {
		t.Errorf("report key = %q", got.ReportKey)
	}

	late := NewTokens(testSecrets()).WithClock(func() time.Time {
		return issued.Add(2 * time.Hour)
	})
	if _, err := late.VerifyLinkToken(signed); !errors.Is(err, ErrLinkTokenExpired) {
		t.Fatalf("expired token: got err %v, want ErrLinkTokenExpired", err)
	}
}

func TestLinkTokenInvalid(t *testing.T) {
	tokens := NewTokens(testSecrets())

	for _, token := range []string{"", "garbage", "a.b"} {
		if _, err := tokens.VerifyLinkToken(token); !errors.Is(err, ErrLinkTokenInvalid) {
			t.Errorf("VerifyLinkToken(%q): got err %v, want ErrLinkTokenInvalid", token, err)
		}
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Run("production requires secrets", func(t *testing.T) {
		if _, err := ResolveSecrets("production", func(string) string { return "" }); err == nil {
			t.Fatal("production with no secrets must fail")
		}
	})

	t.Run("production with all secrets", func(t *testing.T) {
		env := map[string]string{
			EnvReportTokenSecret:  "r",
			EnvResultCookieSecret: "s",
			EnvCreditsCookieSecret: "c",
		}
		s, err := ResolveSecrets("production", func(k string) string { return env[k] })
		if err != nil {
			t.Fatalf("ResolveSecrets: %v", err)
		}
		if string(s.ReportLink) != "r" {
			t.Errorf("link secret should fall back to report token secret, got %q", s.ReportLink)
		}
	})

	t.Run("development falls back", func(t *testing.T) {
		s, err := ResolveSecrets("development", func(string) string { return "" })
		if err != nil {
			t.Fatalf("ResolveSecrets: %v", err)
		}
		if len(s.ReportToken) == 0 || len(s.Credits) == 0 {
			t.Fatal("dev fallbacks should be non-empty")
		}
	})
}
