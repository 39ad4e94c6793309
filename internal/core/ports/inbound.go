package ports

import (
	"context"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
)

// DocumentIngestor is the inbound contract for the upload grant / confirm / poll lifecycle.
type DocumentIngestor interface {
	RequestUpload(ctx context.Context, req domain.UploadRequest) (*domain.UploadGrant, error)
	ConfirmUpload(ctx context.Context, documentID, userID string) (*domain.ConfirmResult, error)
	GetStatus(ctx context.Context, documentID, userID string) (*domain.Document, error)
}

// DocumentLister is the inbound read model over finished documents.
type DocumentLister interface {
	ListDocuments(ctx context.Context, userID string, limit int) ([]domain.CatalogEntry, error)
}

// ChunkSearcher is the inbound contract for retrieval over indexed chunks.
type ChunkSearcher interface {
	Search(ctx context.Context, query string, limit int, filter domain.SearchFilter) (*domain.SearchResult, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	Process(ctx context.Context, job domain.ProcessingJob) error
}
