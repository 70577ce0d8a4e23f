package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReportArtifact is a generated report persisted once per purchase.
type ReportArtifact struct {
	PurchaseID     string
	TenantID       string
	TestID         string
	SessionID      string
	Locale         string
	StyleID        string
	Model          string
	PromptVersion  string
	ScoringVersion string
	ReportJSON     json.RawMessage
	CreatedAt      time.Time
}

func (a *ReportArtifact) normalize() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"purchase_id", &a.PurchaseID},
		{"tenant_id", &a.TenantID},
		{"test_id", &a.TestID},
		{"session_id", &a.SessionID},
		{"locale", &a.Locale},
		{"style_id", &a.StyleID},
		{"model", &a.Model},
		{"prompt_version", &a.PromptVersion},
		{"scoring_version", &a.ScoringVersion},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return fmt.Errorf("report artifact: %s is required", f.name)
		}
	}
	if len(a.ReportJSON) == 0 || !json.Valid(a.ReportJSON) {
		return errors.New("report artifact: report_json must be valid JSON")
	}
	return nil
}

// HasArtifact reports whether a report has been persisted for purchaseID.
func (s *Store) HasArtifact(purchaseID string) (bool, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return false, nil
	}

	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM report_artifacts WHERE purchase_id = ? LIMIT 1`, purchaseID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check report artifact: %w", err)
	}
	return true, nil
}

// InsertArtifact persists a generated report. The first writer for a purchase
// wins; racing writers see inserted=false and keep the stored report.
func (s *Store) InsertArtifact(artifact ReportArtifact) (bool, error) {
	if err := artifact.normalize(); err != nil {
		return false, err
	}

	res, err := s.db.Exec(`
		INSERT INTO report_artifacts (
			purchase_id, tenant_id, test_id, session_id, locale,
			style_id, model, prompt_version, scoring_version, report_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(purchase_id) DO NOTHING`,
		artifact.PurchaseID, artifact.TenantID, artifact.TestID, artifact.SessionID, artifact.Locale,
		artifact.StyleID, artifact.Model, artifact.PromptVersion, artifact.ScoringVersion,
		string(artifact.ReportJSON), time.Now().UTC().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert report artifact: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert report artifact: %w", err)
	}
	return inserted > 0, nil
}

// ArtifactByPurchase returns the stored report for purchaseID, or nil.
func (s *Store) ArtifactByPurchase(purchaseID string) (*ReportArtifact, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return nil, nil
	}

	var a ReportArtifact
	var reportJSON string
	var createdAt int64
	err := s.db.QueryRow(`
		SELECT purchase_id, tenant_id, test_id, session_id, locale,
		       style_id, model, prompt_version, scoring_version, report_json, created_at
		FROM report_artifacts
		WHERE purchase_id = ?
		LIMIT 1`, purchaseID).Scan(
		&a.PurchaseID, &a.TenantID, &a.TestID, &a.SessionID, &a.Locale,
		&a.StyleID, &a.Model, &a.PromptVersion, &a.ScoringVersion, &reportJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report artifact: %w", err)
	}
	a.ReportJSON = json.RawMessage(reportJSON)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}
