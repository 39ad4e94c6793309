package ports

import (
	"context"
	"time"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
)

// StatusCache is the authoritative, TTL-backed store of per-document processing state.
type StatusCache interface {
	// Create stores a new record and fails with domain.ErrConflict if the id is taken.
	Create(ctx context.Context, doc *domain.Document) error
	Get(ctx context.Context, documentID string) (*domain.Document, error)
	// Update runs mutate against the latest record under optimistic concurrency and
	// persists the result. Terminal records receive the retention TTL, others never expire.
	// A mutate returning domain.ErrNoChange skips the write and yields the current record.
	Update(ctx context.Context, documentID string, mutate func(doc *domain.Document) error) (*domain.Document, error)
	// ListStalled returns processing records whose processing started before cutoff.
	ListStalled(ctx context.Context, cutoff time.Time) ([]*domain.Document, error)
}

// DocumentLock serializes work on one document across worker instances.
type DocumentLock interface {
	Acquire(ctx context.Context, documentID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, documentID string) error
}

// ObjectStore issues upload grants and streams stored objects back.
type ObjectStore interface {
	IssueUploadGrant(ctx context.Context, grant UploadGrantRequest, ttl time.Duration) (domain.UploadCredential, error)
	GetObject(ctx context.Context, objectKey string) ([]byte, error)
}

type UploadGrantRequest struct {
	ObjectKey     string
	ContentType   string
	ContentLength int64
}

// JobQueue accepts processing jobs without blocking; a full queue yields domain.ErrOverloaded.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.ProcessingJob) error
}

// JobConsumer delivers queued jobs to handler with bounded concurrency until ctx ends.
type JobConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error
}

// TextExtractor turns raw object bytes into plain text according to the mime type.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Chunker splits text into deterministic windows.
type Chunker interface {
	Split(source domain.ChunkSource, text string) []domain.Chunk
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex inserts chunk records one at a time; there is no batch guarantee.
type VectorIndex interface {
	InsertChunk(ctx context.Context, record domain.ChunkRecord) error
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
}

// DocumentCatalog keeps durable snapshots of finished documents.
type DocumentCatalog interface {
	Upsert(ctx context.Context, entry domain.CatalogEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.CatalogEntry, error)
}

// ProcessingObserver receives worker lifecycle signals (metrics).
type ProcessingObserver interface {
	StartDocument()
	FinishDocument(status domain.DocumentStatus, duration time.Duration)
	ObserveQueueLag(lag time.Duration)
	ObserveChunkInsert(success bool)
}
