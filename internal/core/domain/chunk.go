package domain

import (
	"fmt"
	"time"
)

// Chunk is a bounded window of a document's extracted text.
type Chunk struct {
	Content    string `json:"content"`
	ChunkID    int    `json:"chunk_id"`
	NodeID     string `json:"node_id"`
	Offset     int    `json:"offset"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	TenantID   string `json:"tenant_id"`
	Filename   string `json:"filename"`
}

// NodeID is the idempotency key of a chunk in the vector index.
func NodeID(documentID string, chunkID int) string {
	return fmt.Sprintf("%s:%d", documentID, chunkID)
}

// ChunkSource carries the back-references stamped onto every chunk of a document.
type ChunkSource struct {
	DocumentID string
	UserID     string
	TenantID   string
	Filename   string
}

func ChunkSourceOf(doc *Document) ChunkSource {
	return ChunkSource{
		DocumentID: doc.DocumentID,
		UserID:     doc.UserID,
		TenantID:   doc.TenantID,
		Filename:   doc.Filename,
	}
}

// ChunkRecord is what gets inserted into the vector index.
type ChunkRecord struct {
	Chunk
	Vector    []float32
	MimeType  string
	IndexedAt time.Time
}
