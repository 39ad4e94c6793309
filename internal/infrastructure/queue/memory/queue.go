package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

var (
	_ ports.JobQueue    = (*Queue)(nil)
	_ ports.JobConsumer = (*Queue)(nil)
)

type Options struct {
	Capacity    int
	Concurrency int
	// JobTimeout bounds a single handler invocation; zero leaves it unbounded.
	JobTimeout time.Duration
	// DrainTimeout bounds how long Consume keeps submitting buffered jobs after ctx ends.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Queue is a bounded in-process job buffer drained by an ants worker pool.
type Queue struct {
	jobs        chan domain.ProcessingJob
	concurrency int
	jobTimeout  time.Duration
	drainFor    time.Duration
	logger      *slog.Logger
}

func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		jobs:        make(chan domain.ProcessingJob, opts.Capacity),
		concurrency: opts.Concurrency,
		jobTimeout:  opts.JobTimeout,
		drainFor:    opts.DrainTimeout,
		logger:      opts.Logger,
	}
}

// Enqueue never blocks: a full buffer is reported as domain.ErrOverloaded.
func (q *Queue) Enqueue(ctx context.Context, job domain.ProcessingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return domain.WrapError(domain.ErrOverloaded, "enqueue job", fmt.Errorf("queue capacity %d reached", cap(q.jobs)))
	}
}

func (q *Queue) Len() int      { return len(q.jobs) }
func (q *Queue) Capacity() int { return cap(q.jobs) }

// Consume runs handler for each job with at most Concurrency jobs in flight. When ctx ends
// it keeps submitting buffered jobs for up to DrainTimeout, then waits for running ones;
// job contexts are detached from ctx. Jobs still buffered after the drain deadline stay
// queued and are logged.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error {
	pool, err := ants.NewPool(q.concurrency, ants.WithPanicHandler(func(recovered any) {
		q.logger.Error("worker_panic", "panic", fmt.Sprint(recovered))
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	jobCtx := context.WithoutCancel(ctx)
	submit := func(job domain.ProcessingJob) {
		inflight.Add(1)
		err := pool.Submit(func() {
			defer inflight.Done()
			q.run(jobCtx, handler, job)
		})
		if err != nil {
			inflight.Done()
			q.logger.Error("worker_submit_failed", "document_id", job.DocumentID, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			q.drain(submit)
			return nil
		case job := <-q.jobs:
			submit(job)
		}
	}
}

func (q *Queue) drain(submit func(domain.ProcessingJob)) {
	if len(q.jobs) == 0 {
		return
	}
	q.logger.Info("worker_drain_started", "buffered", len(q.jobs))
	deadline := time.Now().Add(q.drainFor)
	for time.Now().Before(deadline) {
		select {
		case job := <-q.jobs:
			submit(job)
		default:
			return
		}
	}
	if left := len(q.jobs); left > 0 {
		q.logger.Warn("worker_drain_deadline_reached", "left_in_buffer", left)
	}
}

func (q *Queue) run(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error, job domain.ProcessingJob) {
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	if err := handler(ctx, job); err != nil {
		q.logger.Warn("worker_job_failed", "document_id", job.DocumentID, "error", err)
	}
}
