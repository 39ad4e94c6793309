package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

const (
	progressFetched   = 10
	progressExtracted = 30
	progressChunked   = 40
	progressIndexed   = 95
)

type ProcessDeps struct {
	Cache     ports.StatusCache
	Lock      ports.DocumentLock
	Storage   ports.ObjectStore
	Extractor ports.TextExtractor
	Chunker   ports.Chunker
	Embedder  ports.Embedder
	Index     ports.VectorIndex
	Catalog   ports.DocumentCatalog
	Observer  ports.ProcessingObserver
	Logger    *slog.Logger
}

type ProcessOptions struct {
	// CallTimeout bounds every call to object storage, the embedder and the vector index.
	CallTimeout time.Duration
	LockTTL     time.Duration
	Now         func() time.Time
}

// ProcessDocumentUseCase runs fetch -> extract -> chunk -> index for one confirmed document.
type ProcessDocumentUseCase struct {
	cache     ports.StatusCache
	lock      ports.DocumentLock
	storage   ports.ObjectStore
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	index     ports.VectorIndex
	catalog   ports.DocumentCatalog
	observer  ports.ProcessingObserver
	logger    *slog.Logger

	callTimeout time.Duration
	lockTTL     time.Duration
	now         func() time.Time
}

func NewProcessDocumentUseCase(deps ProcessDeps, opts ProcessOptions) *ProcessDocumentUseCase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ProcessDocumentUseCase{
		cache:       deps.Cache,
		lock:        deps.Lock,
		storage:     deps.Storage,
		extractor:   deps.Extractor,
		chunker:     deps.Chunker,
		embedder:    deps.Embedder,
		index:       deps.Index,
		catalog:     deps.Catalog,
		observer:    deps.Observer,
		logger:      deps.Logger,
		callTimeout: opts.CallTimeout,
		lockTTL:     opts.LockTTL,
		now:         opts.Now,
	}
}

// Process executes one job. Outcomes are recorded on the document; the returned error is
// informational for the consumer and never triggers an automatic retry.
func (uc *ProcessDocumentUseCase) Process(ctx context.Context, job domain.ProcessingJob) (err error) {
	logger := uc.logger.With("document_id", job.DocumentID)

	if uc.lock != nil {
		acquired, lockErr := uc.lock.Acquire(ctx, job.DocumentID, uc.lockTTL)
		if lockErr != nil {
			return fmt.Errorf("acquire document lock: %w", lockErr)
		}
		if !acquired {
			logger.Info("document_processing_skipped", "reason", "locked by another worker")
			return nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.callTimeout)
			defer cancel()
			if releaseErr := uc.lock.Release(releaseCtx, job.DocumentID); releaseErr != nil {
				logger.Warn("document_lock_release_failed", "error", releaseErr)
			}
		}()
	}

	doc, err := uc.cache.Get(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("fetch document status: %w", err)
	}
	if doc.Status != domain.StatusProcessing {
		logger.Info("document_processing_skipped", "reason", "status is "+string(doc.Status))
		return nil
	}

	start := uc.now()
	if !job.EnqueuedAt.IsZero() {
		uc.observer.ObserveQueueLag(start.Sub(job.EnqueuedAt))
	}
	uc.observer.StartDocument()
	logger.Info("document_processing_started", "user_id", doc.UserID, "mime_type", doc.MimeType)

	final := domain.StatusError
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("document_processing_panic", "panic", fmt.Sprint(recovered))
			uc.markFailed(ctx, doc.DocumentID, fmt.Sprintf("internal error: %v", recovered))
			final = domain.StatusError
			err = domain.WrapError(domain.ErrProcessing, "process document", fmt.Errorf("panic: %v", recovered))
		}
		duration := uc.now().Sub(start)
		uc.observer.FinishDocument(final, duration)
		logger.Info("document_processing_finished", "status", string(final), "duration_ms", duration.Milliseconds())
	}()

	final, err = uc.run(ctx, doc, logger)
	return err
}

func (uc *ProcessDocumentUseCase) run(ctx context.Context, doc *domain.Document, logger *slog.Logger) (domain.DocumentStatus, error) {
	data, err := uc.fetch(ctx, doc)
	if err != nil {
		return uc.fail(ctx, doc, logger, "fetch object", err)
	}
	uc.reportProgress(ctx, doc.DocumentID, progressFetched, "file fetched", -1, logger)

	text, err := uc.extractor.Extract(ctx, doc.MimeType, data)
	if err != nil {
		return uc.fail(ctx, doc, logger, "extract text", err)
	}
	if strings.TrimSpace(text) == "" {
		return uc.fail(ctx, doc, logger, "extract text", errors.New("document contains no extractable text"))
	}
	uc.reportProgress(ctx, doc.DocumentID, progressExtracted, fmt.Sprintf("extracted %d characters", len([]rune(text))), -1, logger)

	chunks := uc.chunker.Split(domain.ChunkSourceOf(doc), text)
	if len(chunks) == 0 {
		return uc.fail(ctx, doc, logger, "chunk document", errors.New("chunking produced zero chunks"))
	}
	uc.reportProgress(ctx, doc.DocumentID, progressChunked, fmt.Sprintf("created %d text chunks", len(chunks)), -1, logger)

	created := uc.indexChunks(ctx, doc, chunks, logger)
	if created == 0 {
		return uc.fail(ctx, doc, logger, "index chunks", fmt.Errorf("all %d chunk inserts failed", len(chunks)))
	}

	return uc.complete(ctx, doc, created, len(chunks), logger)
}

func (uc *ProcessDocumentUseCase) fetch(ctx context.Context, doc *domain.Document) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
	defer cancel()
	return uc.storage.GetObject(callCtx, doc.ObjectKey)
}

// indexChunks inserts every chunk independently and returns the number of successes.
func (uc *ProcessDocumentUseCase) indexChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, logger *slog.Logger) int {
	created := 0
	lastProgress := progressChunked
	for i, chunk := range chunks {
		if err := uc.indexChunk(ctx, doc, chunk); err != nil {
			uc.observer.ObserveChunkInsert(false)
			logger.Warn("chunk_insert_failed", "node_id", chunk.NodeID, "chunk_id", chunk.ChunkID, "error", err)
			continue
		}
		uc.observer.ObserveChunkInsert(true)
		created++

		progress := progressChunked + (i+1)*(progressIndexed-progressChunked)/len(chunks)
		if progress > lastProgress {
			lastProgress = progress
			uc.reportProgress(ctx, doc.DocumentID, progress, fmt.Sprintf("indexed %d/%d chunks", i+1, len(chunks)), created, logger)
		}
	}
	return created
}

func (uc *ProcessDocumentUseCase) indexChunk(ctx context.Context, doc *domain.Document, chunk domain.Chunk) error {
	callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
	defer cancel()

	vectors, err := uc.embedder.Embed(callCtx, []string{chunk.Content})
	if err != nil {
		return fmt.Errorf("embed chunk: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return fmt.Errorf("embed chunk: expected 1 vector, got %d", len(vectors))
	}

	record := domain.ChunkRecord{
		Chunk:     chunk,
		Vector:    vectors[0],
		MimeType:  doc.MimeType,
		IndexedAt: uc.now(),
	}
	if err := uc.index.InsertChunk(callCtx, record); err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) reportProgress(ctx context.Context, documentID string, progress int, message string, chunksCreated int, logger *slog.Logger) {
	_, err := uc.cache.Update(ctx, documentID, func(doc *domain.Document) error {
		changed := doc.AdvanceProgress(progress, message, uc.now())
		if chunksCreated > doc.ChunksCreated {
			doc.ChunksCreated = chunksCreated
			changed = true
		}
		if !changed {
			return domain.ErrNoChange
		}
		return nil
	})
	if err != nil {
		logger.Warn("progress_update_failed", "progress", progress, "error", err)
	}
}

func (uc *ProcessDocumentUseCase) complete(ctx context.Context, doc *domain.Document, created, attempted int, logger *slog.Logger) (domain.DocumentStatus, error) {
	writeCtx, cancel := uc.detachedContext(ctx)
	defer cancel()

	updated, err := uc.cache.Update(writeCtx, doc.DocumentID, func(d *domain.Document) error {
		d.ChunksCreated = created
		d.ChunksAttempted = attempted
		d.Message = fmt.Sprintf("indexed %d of %d chunks", created, attempted)
		return d.TransitionTo(domain.StatusCompleted, uc.now())
	})
	if err != nil {
		logger.Error("document_completion_write_failed", "error", err)
		failed := uc.markFailed(ctx, doc.DocumentID, fmt.Sprintf("record completion: %v", err))
		if failed == nil || failed.Status != domain.StatusError {
			return domain.StatusProcessing, fmt.Errorf("mark document completed: %w", err)
		}
		uc.recordCatalog(writeCtx, failed, logger)
		return domain.StatusError, domain.WrapError(domain.ErrProcessing, "record completion", err)
	}

	if created < attempted {
		logger.Warn("document_partially_indexed", "chunks_created", created, "chunks_attempted", attempted)
	}
	uc.recordCatalog(writeCtx, updated, logger)
	return domain.StatusCompleted, nil
}

func (uc *ProcessDocumentUseCase) fail(ctx context.Context, doc *domain.Document, logger *slog.Logger, stage string, cause error) (domain.DocumentStatus, error) {
	message := fmt.Sprintf("%s: %v", stage, cause)
	logger.Error("document_processing_failed", "stage", stage, "error", cause)

	updated := uc.markFailed(ctx, doc.DocumentID, message)
	if updated != nil {
		writeCtx, cancel := uc.detachedContext(ctx)
		defer cancel()
		uc.recordCatalog(writeCtx, updated, logger)
	}
	return domain.StatusError, domain.WrapError(domain.ErrProcessing, stage, cause)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID, message string) *domain.Document {
	writeCtx, cancel := uc.detachedContext(ctx)
	defer cancel()

	updated, err := uc.cache.Update(writeCtx, documentID, func(d *domain.Document) error {
		if d.Status != domain.StatusProcessing {
			return domain.ErrNoChange
		}
		if err := d.TransitionTo(domain.StatusError, uc.now()); err != nil {
			return err
		}
		d.Error = message
		d.Message = "processing failed"
		return nil
	})
	if err != nil {
		uc.logger.Error("mark_failed_status_error", "document_id", documentID, "error", err)
		return nil
	}
	return updated
}

func (uc *ProcessDocumentUseCase) recordCatalog(ctx context.Context, doc *domain.Document, logger *slog.Logger) {
	if uc.catalog == nil || doc == nil || !doc.Status.Terminal() {
		return
	}
	if err := uc.catalog.Upsert(ctx, domain.CatalogEntryFromDocument(doc)); err != nil {
		logger.Warn("catalog_upsert_failed", "error", err)
	}
}

// detachedContext survives job-level cancellation so final states are still written.
func (uc *ProcessDocumentUseCase) detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), uc.callTimeout)
}

type noopObserver struct{}

func (noopObserver) StartDocument()                                     {}
func (noopObserver) FinishDocument(domain.DocumentStatus, time.Duration) {}
func (noopObserver) ObserveQueueLag(time.Duration)                       {}
func (noopObserver) ObserveChunkInsert(bool)                             {}
