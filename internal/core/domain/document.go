package domain

import (
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusUploadPending DocumentStatus = "upload_pending"
	StatusProcessing    DocumentStatus = "processing"
	StatusCompleted     DocumentStatus = "completed"
	StatusError         DocumentStatus = "error"
)

// Terminal reports whether no further transition may leave the status.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploadPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

const DefaultTenantID = "default"

// Document is the authoritative processing record kept in the status cache.
type Document struct {
	DocumentID          string         `json:"document_id"`
	Filename            string         `json:"filename"`
	MimeType            string         `json:"mime_type"`
	DeclaredSize        int64          `json:"declared_size"`
	TenantID            string         `json:"tenant_id"`
	UserID              string         `json:"user_id"`
	ObjectKey           string         `json:"object_key"`
	Status              DocumentStatus `json:"status"`
	CreatedAt           time.Time      `json:"created_at"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at"`
	Progress            int            `json:"progress"`
	ChunksCreated       int            `json:"chunks_created"`
	ChunksAttempted     int            `json:"chunks_attempted"`
	Message             string         `json:"message,omitempty"`
	Error               string         `json:"error,omitempty"`
}

// OwnedBy reports whether userID may read or mutate the document.
func (d *Document) OwnedBy(userID string) bool {
	return d != nil && d.UserID != "" && d.UserID == userID
}

// TransitionTo applies a state machine edge and stamps the matching timestamp.
// Allowed edges: upload_pending->processing, processing->completed, processing->error,
// and processing->upload_pending when dispatch of a freshly confirmed job failed.
func (d *Document) TransitionTo(next DocumentStatus, now time.Time) error {
	if d.Status.Terminal() {
		return WrapError(ErrInvalidTransition, "transition", fmt.Errorf("%s is terminal", d.Status))
	}

	switch {
	case d.Status == StatusUploadPending && next == StatusProcessing:
		started := now
		d.ProcessingStartedAt = &started
		d.Progress = 0
		d.Message = "queued for processing"
	case d.Status == StatusProcessing && next == StatusUploadPending:
		d.ProcessingStartedAt = nil
		d.Progress = 0
		d.Message = ""
	case d.Status == StatusProcessing && next == StatusCompleted:
		completed := now
		d.CompletedAt = &completed
		d.Progress = 100
		d.Error = ""
	case d.Status == StatusProcessing && next == StatusError:
		completed := now
		d.CompletedAt = &completed
	default:
		return WrapError(ErrInvalidTransition, "transition", fmt.Errorf("%s -> %s", d.Status, next))
	}

	d.Status = next
	d.UpdatedAt = now
	return nil
}

// AdvanceProgress moves progress forward only while processing.
func (d *Document) AdvanceProgress(progress int, message string, now time.Time) bool {
	if d.Status != StatusProcessing {
		return false
	}
	if progress > 100 {
		progress = 100
	}
	if progress < d.Progress {
		return false
	}
	if progress == d.Progress && message == d.Message {
		return false
	}
	d.Progress = progress
	if message != "" {
		d.Message = message
	}
	d.UpdatedAt = now
	return true
}

// ProcessingJob is the unit of work handed to the worker pool, one per confirmed document.
type ProcessingJob struct {
	DocumentID string    `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type UploadRequest struct {
	Filename     string
	UserID       string
	TenantID     string
	DeclaredSize int64
}

// UploadCredential is a presigned, time-limited write authorization for one object key.
type UploadCredential struct {
	URL       string              `json:"url"`
	Method    string              `json:"method"`
	Headers   map[string][]string `json:"headers,omitempty"`
	ExpiresAt time.Time           `json:"expires_at"`
}

type UploadGrant struct {
	DocumentID string           `json:"document_id"`
	ObjectKey  string           `json:"object_key"`
	Credential UploadCredential `json:"credential"`
	ExpiresIn  time.Duration    `json:"-"`
}

type ConfirmResult struct {
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
}

// CatalogEntry is the durable snapshot of a document that reached a terminal state.
type CatalogEntry struct {
	DocumentID    string         `json:"document_id"`
	TenantID      string         `json:"tenant_id"`
	UserID        string         `json:"user_id"`
	Filename      string         `json:"filename"`
	MimeType      string         `json:"mime_type"`
	SizeBytes     int64          `json:"size_bytes"`
	Status        DocumentStatus `json:"status"`
	ChunksCreated int            `json:"chunks_created"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   time.Time      `json:"completed_at"`
}

func CatalogEntryFromDocument(doc *Document) CatalogEntry {
	entry := CatalogEntry{
		DocumentID:    doc.DocumentID,
		TenantID:      doc.TenantID,
		UserID:        doc.UserID,
		Filename:      doc.Filename,
		MimeType:      doc.MimeType,
		SizeBytes:     doc.DeclaredSize,
		Status:        doc.Status,
		ChunksCreated: doc.ChunksCreated,
		Error:         doc.Error,
		CreatedAt:     doc.CreatedAt,
	}
	if doc.CompletedAt != nil {
		entry.CompletedAt = *doc.CompletedAt
	}
	return entry
}
