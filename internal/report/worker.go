package report

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quizforge/quizforge/internal/qmetrics"
	"github.com/quizforge/quizforge/internal/store"
)

const (
	// DefaultWorkerInterval is the queue poll cadence.
	DefaultWorkerInterval = 5 * time.Second
	// DefaultWorkerBatch is how many jobs one poll claims.
	DefaultWorkerBatch = 5
)

// Worker drains the report job queue in the background. Each poll claims a
// batch of queued jobs and runs them through the pipeline one at a time.
type Worker struct {
	store    *store.Store
	pipeline *Pipeline
	interval time.Duration
	batch    int
}

// NewWorker wires a queue worker. Zero interval and batch fall back to the
// defaults.
func NewWorker(st *store.Store, pipeline *Pipeline, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = DefaultWorkerInterval
	}
	if batch <= 0 {
		batch = DefaultWorkerBatch
	}
	return &Worker{store: st, pipeline: pipeline, interval: interval, batch: batch}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Int("batch", w.batch).Msg("Report worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Report worker stopped")
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce claims and runs one batch, returning how many jobs it claimed.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if !w.pipeline.Enabled() {
		return 0
	}

	jobs, err := w.store.ClaimQueuedJobs(w.batch)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim report jobs")
		return 0
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return len(jobs)
		}
		qmetrics.JobsClaimedTotal.Inc()

		start := time.Now()
		err := w.pipeline.ProcessJob(ctx, job)
		qmetrics.GenerationDuration.WithLabelValues("worker").Observe(time.Since(start).Seconds())

		if err != nil {
			qmetrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Str("purchase_id", job.PurchaseID).
				Str("test_id", job.TestID).
				Msg("Report job failed")
			continue
		}
		qmetrics.JobsCompletedTotal.WithLabelValues("ready").Inc()
		log.Info().
			Str("purchase_id", job.PurchaseID).
			Str("test_id", job.TestID).
			Msg("Report job completed")
	}
	return len(jobs)
}
