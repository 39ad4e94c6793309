package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

type cacheFake struct {
	mu        sync.Mutex
	docs      map[string]domain.Document
	createErr error
	updateErr error

	// rejectStatus fails any update that would move a record into that status.
	rejectStatus domain.DocumentStatus
	history      []domain.DocumentStatus
}

func newCacheFake() *cacheFake {
	return &cacheFake{docs: map[string]domain.Document{}}
}

func (f *cacheFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.docs[doc.DocumentID]; ok {
		return domain.ErrConflict
	}
	f.docs[doc.DocumentID] = *doc
	f.history = append(f.history, doc.Status)
	return nil
}

func (f *cacheFake) Get(_ context.Context, documentID string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New(documentID))
	}
	return &doc, nil
}

func (f *cacheFake) Update(_ context.Context, documentID string, mutate func(*domain.Document) error) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	doc, ok := f.docs[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "update", errors.New(documentID))
	}
	next := doc
	if err := mutate(&next); err != nil {
		if errors.Is(err, domain.ErrNoChange) {
			return &doc, nil
		}
		return nil, err
	}
	if f.rejectStatus != "" && next.Status == f.rejectStatus && doc.Status != next.Status {
		return nil, domain.WrapError(domain.ErrTemporary, "update", errors.New("write rejected"))
	}
	if next.Status != doc.Status {
		f.history = append(f.history, next.Status)
	}
	f.docs[documentID] = next
	return &next, nil
}

func (f *cacheFake) ListStalled(_ context.Context, cutoff time.Time) ([]*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Document
	for _, doc := range f.docs {
		if doc.Status == domain.StatusProcessing && startedBefore(&doc, cutoff) {
			out = append(out, &doc)
		}
	}
	return out, nil
}

func (f *cacheFake) snapshot(documentID string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[documentID]
}

type storageFake struct {
	mu       sync.Mutex
	grants   []ports.UploadGrantRequest
	objects  map[string][]byte
	grantErr error
	getErr   error
}

func (f *storageFake) IssueUploadGrant(_ context.Context, req ports.UploadGrantRequest, ttl time.Duration) (domain.UploadCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return domain.UploadCredential{}, f.grantErr
	}
	f.grants = append(f.grants, req)
	return domain.UploadCredential{
		URL:       "https://s3.test/bucket/" + req.ObjectKey + "?X-Amz-Signature=abc",
		Method:    "PUT",
		Headers:   map[string][]string{"Content-Type": {req.ContentType}},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *storageFake) GetObject(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get object", errors.New(key))
	}
	return data, nil
}

func (f *storageFake) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
}

type queueFake struct {
	mu   sync.Mutex
	jobs []domain.ProcessingJob
	err  error
}

func (f *queueFake) Enqueue(_ context.Context, job domain.ProcessingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type lockFake struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (f *lockFake) Acquire(_ context.Context, documentID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[documentID] {
		return false, nil
	}
	f.held[documentID] = true
	return true, nil
}

func (f *lockFake) Release(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, documentID)
	f.released = append(f.released, documentID)
	return nil
}

type extractorFake struct {
	err error
}

func (f *extractorFake) Extract(_ context.Context, _ string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return string(data), nil
}

// fixedChunker splits text into size-rune windows without overlap.
type fixedChunker struct {
	size int
}

func (c fixedChunker) Split(source domain.ChunkSource, text string) []domain.Chunk {
	runes := []rune(text)
	var chunks []domain.Chunk
	for start, id := 0, 0; start < len(runes); start, id = start+c.size, id+1 {
		end := min(start+c.size, len(runes))
		chunks = append(chunks, domain.Chunk{
			Content:    string(runes[start:end]),
			ChunkID:    id,
			NodeID:     domain.NodeID(source.DocumentID, id),
			Offset:     start,
			DocumentID: source.DocumentID,
			UserID:     source.UserID,
			TenantID:   source.TenantID,
			Filename:   source.Filename,
		})
	}
	return chunks
}

type embedderFake struct {
	err   error
	query string
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.query = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type indexFake struct {
	mu         sync.Mutex
	records    []domain.ChunkRecord
	failNodes  map[string]bool
	failAll    bool
	lastLimit  int
	lastFilter domain.SearchFilter
	searchErr  error
}

func (f *indexFake) InsertChunk(_ context.Context, record domain.ChunkRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failNodes[record.NodeID] {
		return fmt.Errorf("insert %s: %w", record.NodeID, domain.ErrTemporary)
	}
	f.records = append(f.records, record)
	return nil
}

func (f *indexFake) Search(_ context.Context, _ []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	f.lastFilter = filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []domain.RetrievedChunk
	for _, record := range f.records {
		if record.UserID != filter.UserID {
			continue
		}
		out = append(out, domain.RetrievedChunk{
			DocumentID: record.DocumentID,
			NodeID:     record.NodeID,
			ChunkID:    record.ChunkID,
			Filename:   record.Filename,
			Content:    record.Content,
			Score:      0.9,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *indexFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type catalogFake struct {
	mu      sync.Mutex
	entries map[string]domain.CatalogEntry
	err     error
}

func (f *catalogFake) Upsert(_ context.Context, entry domain.CatalogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.entries == nil {
		f.entries = map[string]domain.CatalogEntry{}
	}
	f.entries[entry.DocumentID] = entry
	return nil
}

func (f *catalogFake) ListByUser(_ context.Context, userID string, limit int) ([]domain.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.CatalogEntry
	for _, entry := range f.entries {
		if entry.UserID == userID && len(out) < limit {
			out = append(out, entry)
		}
	}
	return out, nil
}

type observerFake struct {
	mu       sync.Mutex
	started  int
	finished []domain.DocumentStatus
	inserts  map[bool]int
}

func (f *observerFake) StartDocument() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *observerFake) FinishDocument(status domain.DocumentStatus, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, status)
}

func (f *observerFake) ObserveQueueLag(time.Duration) {}

func (f *observerFake) ObserveChunkInsert(success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inserts == nil {
		f.inserts = map[bool]int{}
	}
	f.inserts[success]++
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func hasSuffixAfterToken(key, suffix string) bool {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return false
	}
	return strings.HasSuffix(key[idx+1:], "-"+suffix)
}
