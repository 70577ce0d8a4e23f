package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// AttemptSummary captures one completed test attempt: the inputs a report is
// generated from, upserted so a re-submitted attempt replaces the old one.
type AttemptSummary struct {
	TenantID    string
	TestID      string
	SessionID   string
	DistinctID  string
	Locale      string
	ComputedAt  string
	BandID      string
	ScaleScores map[string]float64
	TotalScore  float64
}

func (a *AttemptSummary) normalize() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"tenant_id", &a.TenantID},
		{"test_id", &a.TestID},
		{"session_id", &a.SessionID},
		{"distinct_id", &a.DistinctID},
		{"locale", &a.Locale},
		{"computed_at", &a.ComputedAt},
		{"band_id", &a.BandID},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return fmt.Errorf("attempt summary: %s is required", f.name)
		}
	}
	if len(a.ScaleScores) == 0 {
		return errors.New("attempt summary: scale_scores must not be empty")
	}
	for scale, score := range a.ScaleScores {
		if strings.TrimSpace(scale) == "" {
			return errors.New("attempt summary: blank scale id")
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return fmt.Errorf("attempt summary: invalid score for scale %s", scale)
		}
	}
	if math.IsNaN(a.TotalScore) || math.IsInf(a.TotalScore, 0) {
		return errors.New("attempt summary: invalid total_score")
	}
	return nil
}

// UpsertAttemptSummary stores the attempt keyed by tenant/test/session,
// replacing any previous attempt for the same session.
func (s *Store) UpsertAttemptSummary(summary AttemptSummary) error {
	if err := summary.normalize(); err != nil {
		return err
	}

	scores, err := json.Marshal(summary.ScaleScores)
	if err != nil {
		return fmt.Errorf("upsert attempt summary: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO attempt_summaries (
			tenant_id, test_id, session_id, distinct_id, locale,
			computed_at, band_id, scale_scores, total_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, test_id, session_id) DO UPDATE SET
			distinct_id = excluded.distinct_id,
			locale = excluded.locale,
			computed_at = excluded.computed_at,
			band_id = excluded.band_id,
			scale_scores = excluded.scale_scores,
			total_score = excluded.total_score`,
		summary.TenantID, summary.TestID, summary.SessionID, summary.DistinctID, summary.Locale,
		summary.ComputedAt, summary.BandID, string(scores), summary.TotalScore,
	)
	if err != nil {
		return fmt.Errorf("upsert attempt summary: %w", err)
	}
	return nil
}

// AttemptSummaryByKey returns the stored attempt, or nil if none exists.
func (s *Store) AttemptSummaryByKey(tenantID, testID, sessionID string) (*AttemptSummary, error) {
	tenantID = strings.TrimSpace(tenantID)
	testID = strings.TrimSpace(testID)
	sessionID = strings.TrimSpace(sessionID)
	if tenantID == "" || testID == "" || sessionID == "" {
		return nil, nil
	}

	var summary AttemptSummary
	var scores string
	err := s.db.QueryRow(`
		SELECT tenant_id, test_id, session_id, distinct_id, locale,
		       computed_at, band_id, scale_scores, total_score
		FROM attempt_summaries
		WHERE tenant_id = ? AND test_id = ? AND session_id = ?
		LIMIT 1`, tenantID, testID, sessionID).Scan(
		&summary.TenantID, &summary.TestID, &summary.SessionID, &summary.DistinctID, &summary.Locale,
		&summary.ComputedAt, &summary.BandID, &scores, &summary.TotalScore,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt summary: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &summary.ScaleScores); err != nil {
		return nil, fmt.Errorf("get attempt summary: %w", err)
	}
	return &summary, nil
}
