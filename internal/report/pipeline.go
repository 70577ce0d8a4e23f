package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/store"
)

// Pipeline runs one job end to end: attempt summary to brief to generated
// artifact. The background worker and the foreground access path both call
// it, so they converge on the same idempotent artifact insert.
type Pipeline struct {
	store   *store.Store
	catalog *content.Catalog
	gen     *Generator
	styleID string
}

// NewPipeline wires the generation pipeline. gen may be nil when no provider
// is configured; Enabled reports that.
func NewPipeline(st *store.Store, catalog *content.Catalog, gen *Generator, styleID string) *Pipeline {
	if styleID == "" {
		styleID = DefaultStyleID
	}
	return &Pipeline{store: st, catalog: catalog, gen: gen, styleID: styleID}
}

// Enabled reports whether a generation provider is configured.
func (p *Pipeline) Enabled() bool {
	return p.gen != nil
}

// ProcessJob generates and persists the report for one claimed job, then
// marks it ready. Any failure marks the job failed with the error recorded
// on the row; provider error text stays in the queue, never in responses.
func (p *Pipeline) ProcessJob(ctx context.Context, job *store.ReportJob) error {
	err := p.produce(ctx, job)
	if err != nil {
		if _, markErr := p.store.MarkJobFailed(job.PurchaseID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("purchase_id", job.PurchaseID).Msg("Failed to mark report job failed")
		}
		return err
	}
	if _, err := p.store.MarkJobReady(job.PurchaseID); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) produce(ctx context.Context, job *store.ReportJob) error {
	if p.gen == nil {
		return errors.New("report generator not configured")
	}

	// A purchase that already has its artifact needs no provider call; the
	// job just has to flip to ready.
	has, err := p.store.HasArtifact(job.PurchaseID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	attempt, err := p.store.AttemptSummaryByKey(job.TenantID, job.TestID, job.SessionID)
	if err != nil {
		return err
	}
	if attempt == nil {
		return errors.New("attempt summary missing")
	}

	spec := p.catalog.TestByID(job.TestID)
	if spec == nil {
		return fmt.Errorf("test %s not found", job.TestID)
	}

	brief, err := BuildBrief(spec, attempt)
	if err != nil {
		return err
	}

	raw, _, err := p.gen.Generate(ctx, brief, p.styleID)
	if err != nil {
		return err
	}

	// Racing producers both reach this insert; the first write wins and the
	// loser's output is discarded.
	if _, err := p.store.InsertArtifact(store.ReportArtifact{
		PurchaseID:     job.PurchaseID,
		TenantID:       job.TenantID,
		TestID:         job.TestID,
		SessionID:      job.SessionID,
		Locale:         job.Locale,
		StyleID:        p.styleID,
		Model:          p.gen.Model(),
		PromptVersion:  PromptVersion,
		ScoringVersion: ScoringVersion,
		ReportJSON:     raw,
	}); err != nil {
		return err
	}
	return nil
}
