package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

type CoordinatorOptions struct {
	Policy   domain.UploadPolicy
	GrantTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// IngestionCoordinator issues upload grants, registers pending documents and dispatches
// processing once the client confirms the upload.
type IngestionCoordinator struct {
	cache   ports.StatusCache
	storage ports.ObjectStore
	queue   ports.JobQueue

	policy   domain.UploadPolicy
	grantTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewIngestionCoordinator(
	cache ports.StatusCache,
	storage ports.ObjectStore,
	queue ports.JobQueue,
	opts CoordinatorOptions,
) *IngestionCoordinator {
	if opts.GrantTTL <= 0 {
		opts.GrantTTL = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &IngestionCoordinator{
		cache:    cache,
		storage:  storage,
		queue:    queue,
		policy:   opts.Policy,
		grantTTL: opts.GrantTTL,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

func (uc *IngestionCoordinator) RequestUpload(ctx context.Context, req domain.UploadRequest) (*domain.UploadGrant, error) {
	mimeType, err := uc.policy.Validate(req)
	if err != nil {
		return nil, err
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenantID = domain.DefaultTenantID
	}

	id := uc.newID()
	objectKey := buildObjectKey(tenantID, id, req.Filename)
	now := uc.now()

	credential, err := uc.storage.IssueUploadGrant(ctx, ports.UploadGrantRequest{
		ObjectKey:     objectKey,
		ContentType:   mimeType,
		ContentLength: req.DeclaredSize,
	}, uc.grantTTL)
	if err != nil {
		return nil, fmt.Errorf("issue upload grant: %w", err)
	}

	doc := &domain.Document{
		DocumentID:   id,
		Filename:     filepath.Base(strings.TrimSpace(req.Filename)),
		MimeType:     mimeType,
		DeclaredSize: req.DeclaredSize,
		TenantID:     tenantID,
		UserID:       strings.TrimSpace(req.UserID),
		ObjectKey:    objectKey,
		Status:       domain.StatusUploadPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Message:      "awaiting upload",
	}
	if err := uc.cache.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("register pending document: %w", err)
	}

	uc.logger.Info("upload_grant_issued",
		"document_id", id,
		"user_id", doc.UserID,
		"tenant_id", tenantID,
		"mime_type", mimeType,
		"declared_size", req.DeclaredSize,
	)

	return &domain.UploadGrant{
		DocumentID: id,
		ObjectKey:  objectKey,
		Credential: credential,
		ExpiresIn:  uc.grantTTL,
	}, nil
}

func (uc *IngestionCoordinator) ConfirmUpload(ctx context.Context, documentID, userID string) (*domain.ConfirmResult, error) {
	documentID = strings.TrimSpace(documentID)
	userID = strings.TrimSpace(userID)
	if documentID == "" || userID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "confirm upload", errors.New("document_id and user_id are required"))
	}

	current, err := uc.cache.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !current.OwnedBy(userID) {
		return nil, domain.WrapError(domain.ErrForbidden, "confirm upload", fmt.Errorf("document %s", documentID))
	}

	dispatch := false
	updated, err := uc.cache.Update(ctx, documentID, func(doc *domain.Document) error {
		dispatch = false
		if doc.Status != domain.StatusUploadPending {
			return domain.ErrNoChange
		}
		if err := doc.TransitionTo(domain.StatusProcessing, uc.now()); err != nil {
			return err
		}
		dispatch = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark document processing: %w", err)
	}
	if !dispatch {
		return &domain.ConfirmResult{DocumentID: documentID, Status: updated.Status}, nil
	}

	job := domain.ProcessingJob{DocumentID: documentID, EnqueuedAt: uc.now()}
	if err := uc.queue.Enqueue(ctx, job); err != nil {
		uc.revertDispatch(ctx, documentID, err)
		return nil, fmt.Errorf("enqueue processing job: %w", err)
	}

	uc.logger.Info("document_processing_enqueued", "document_id", documentID, "user_id", userID)
	return &domain.ConfirmResult{DocumentID: documentID, Status: domain.StatusProcessing}, nil
}

// revertDispatch returns a document to upload_pending so the client can retry the confirmation.
func (uc *IngestionCoordinator) revertDispatch(ctx context.Context, documentID string, cause error) {
	revertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := uc.cache.Update(revertCtx, documentID, func(doc *domain.Document) error {
		if doc.Status != domain.StatusProcessing {
			return domain.ErrNoChange
		}
		return doc.TransitionTo(domain.StatusUploadPending, uc.now())
	})
	if err != nil {
		uc.logger.Error("document_dispatch_revert_failed", "document_id", documentID, "cause", cause, "error", err)
		return
	}
	uc.logger.Warn("document_dispatch_reverted", "document_id", documentID, "cause", cause)
}

// GetStatus returns the persisted snapshot. Unknown ids and foreign owners are
// indistinguishable to the caller.
func (uc *IngestionCoordinator) GetStatus(ctx context.Context, documentID, userID string) (*domain.Document, error) {
	documentID = strings.TrimSpace(documentID)
	userID = strings.TrimSpace(userID)
	if documentID == "" || userID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get status", errors.New("document_id and user_id are required"))
	}

	doc, err := uc.cache.Get(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, domain.WrapError(domain.ErrForbidden, "get status", fmt.Errorf("document %s", documentID))
		}
		return nil, err
	}
	if !doc.OwnedBy(userID) {
		return nil, domain.WrapError(domain.ErrForbidden, "get status", fmt.Errorf("document %s", documentID))
	}
	return doc, nil
}

func buildObjectKey(tenantID, documentID, filename string) string {
	return path.Join(sanitizeSegment(tenantID), documentID, randomToken()+"-"+sanitizeFilename(filename))
}

func randomToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex.EncodeToString(b[:])
}

func sanitizeSegment(segment string) string {
	cleaned := sanitizeFilename(segment)
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return domain.DefaultTenantID
	}
	return cleaned
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
