package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

type RecoveryOptions struct {
	// StaleAfter is how long a document may stay in processing before its job is
	// considered lost and dispatched again.
	StaleAfter time.Duration
	Interval   time.Duration
	// InitialDelay postpones the first sweep, e.g. until a broker subscription exists.
	InitialDelay time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// StalledJobRecovery re-dispatches documents whose job was lost between confirmation and
// completion, such as jobs still buffered when a worker stopped.
type StalledJobRecovery struct {
	cache ports.StatusCache
	queue ports.JobQueue

	staleAfter   time.Duration
	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewStalledJobRecovery(cache ports.StatusCache, queue ports.JobQueue, opts RecoveryOptions) *StalledJobRecovery {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &StalledJobRecovery{
		cache:        cache,
		queue:        queue,
		staleAfter:   opts.StaleAfter,
		interval:     opts.Interval,
		initialDelay: opts.InitialDelay,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// Sweep claims every stalled document by restamping processing_started_at under CAS, so
// concurrent sweepers dispatch each document once, then enqueues a fresh job for it.
// It stops at the first enqueue failure; the remaining documents wait for the next sweep.
func (r *StalledJobRecovery) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stalled, err := r.cache.ListStalled(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stalled documents: %w", err)
	}

	requeued := 0
	for _, candidate := range stalled {
		claimed := false
		_, err := r.cache.Update(ctx, candidate.DocumentID, func(doc *domain.Document) error {
			claimed = false
			if doc.Status != domain.StatusProcessing || !startedBefore(doc, cutoff) {
				return domain.ErrNoChange
			}
			now := r.now()
			doc.ProcessingStartedAt = &now
			doc.UpdatedAt = now
			doc.Message = "requeued after interrupted processing"
			claimed = true
			return nil
		})
		if err != nil {
			if domain.IsKind(err, domain.ErrDocumentNotFound) {
				continue
			}
			return requeued, fmt.Errorf("claim document %s: %w", candidate.DocumentID, err)
		}
		if !claimed {
			continue
		}

		job := domain.ProcessingJob{DocumentID: candidate.DocumentID, EnqueuedAt: r.now()}
		if err := r.queue.Enqueue(ctx, job); err != nil {
			// Claimed but not dispatched: becomes stalled again after StaleAfter.
			return requeued, fmt.Errorf("requeue document %s: %w", candidate.DocumentID, err)
		}
		r.logger.Warn("document_processing_requeued", "document_id", candidate.DocumentID)
		requeued++
	}
	return requeued, nil
}

// Run sweeps after InitialDelay and then every Interval until ctx ends.
func (r *StalledJobRecovery) Run(ctx context.Context) {
	timer := time.NewTimer(r.initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		n, err := r.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("stalled_job_sweep_failed", "requeued", n, "error", err)
		} else if n > 0 {
			r.logger.Info("stalled_job_sweep_finished", "requeued", n)
		}
		timer.Reset(r.interval)
	}
}

func startedBefore(doc *domain.Document, cutoff time.Time) bool {
	started := doc.UpdatedAt
	if doc.ProcessingStartedAt != nil {
		started = *doc.ProcessingStartedAt
	}
	return started.Before(cutoff)
}
