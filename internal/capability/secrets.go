package capability

import (
	"fmt"
	"strings"
)

// Environment variable names for the per-kind signing secrets.
const (
	EnvReportTokenSecret   = "QF_REPORT_TOKEN_SECRET"
	EnvResultCookieSecret  = "QF_RESULT_COOKIE_SECRET"
	EnvCreditsCookieSecret = "QF_CREDITS_COOKIE_SECRET"
	EnvLinkTokenSecret     = "QF_LINK_TOKEN_SECRET"
)

// Fixed non-production fallbacks keep local and test runs deterministic.
const (
	devReportTokenSecret   = "dev-report-token-secret"
	devResultCookieSecret  = "dev-result-cookie-secret"
	devCreditsCookieSecret = "dev-credits-cookie-secret"
)

// Secrets carries the per-token-kind HMAC keys. It is resolved once at startup
// and injected into constructors, never read from the environment ad hoc.
type Secrets struct {
	ReportToken  []byte
	ResultCookie []byte
	Credits      []byte
	ReportLink   []byte
}

// ResolveSecrets reads the signing secrets via getenv. In production every
// secret must be set (the link token secret may fall back to the report token
// secret, matching how the tokens were originally rolled out); elsewhere fixed
// dev secrets are substituted so local runs never hard-fail.
func ResolveSecrets(environment string, getenv func(string) string) (Secrets, error) {
	production := strings.EqualFold(strings.TrimSpace(environment), "production")

	get := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}

	reportToken := get(EnvReportTokenSecret)
	resultCookie := get(EnvResultCookieSecret)
	credits := get(EnvCreditsCookieSecret)
	link := get(EnvLinkTokenSecret)
	if link == "" {
		link = reportToken
	}

	if production {
		var missing []string
		if reportToken == "" {
			missing = append(missing, EnvReportTokenSecret)
		}
		if resultCookie == "" {
			missing = append(missing, EnvResultCookieSecret)
		}
		if credits == "" {
			missing = append(missing, EnvCreditsCookieSecret)
		}
		if len(missing) > 0 {
			return Secrets{}, fmt.Errorf("missing required signing secrets: %s", strings.Join(missing, ", "))
		}
	} else {
		if reportToken == "" {
			reportToken = devReportTokenSecret
		}
		if resultCookie == "" {
			resultCookie = devResultCookieSecret
		}
		if credits == "" {
			credits = devCreditsCookieSecret
		}
		if link == "" {
			link = devReportTokenSecret
		}
	}

	return Secrets{
		ReportToken:  []byte(reportToken),
		ResultCookie: []byte(resultCookie),
		Credits:      []byte(credits),
		ReportLink:   []byte(link),
	}, nil
}
