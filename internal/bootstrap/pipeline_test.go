package bootstrap_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
	"github.com/josephwmusso/IntraNest/internal/core/usecase"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/cache/redisstore"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/chunking"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/extractor"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/queue/memory"
)

type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *objectStore) IssueUploadGrant(_ context.Context, req ports.UploadGrantRequest, ttl time.Duration) (domain.UploadCredential, error) {
	return domain.UploadCredential{
		URL:       "http://objects.local/" + req.ObjectKey,
		Method:    "PUT",
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *objectStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get object", fmt.Errorf("key=%s", key))
	}
	return data, nil
}

func (s *objectStore) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

type embedder struct{}

func (embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (e embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type vectorIndex struct {
	mu     sync.Mutex
	points map[string]domain.ChunkRecord
}

func (v *vectorIndex) InsertChunk(_ context.Context, record domain.ChunkRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.points[record.NodeID] = record
	return nil
}

func (v *vectorIndex) Search(context.Context, []float32, int, domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	return nil, errors.New("not used")
}

func (v *vectorIndex) countFor(documentID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, record := range v.points {
		if record.DocumentID == documentID {
			n++
		}
	}
	return n
}

type pipeline struct {
	ingest  *usecase.IngestionCoordinator
	cache   *redisstore.StatusCache
	queue   *memory.Queue
	storage *objectStore
	index   *vectorIndex
}

const testChunkSize = 100

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := redisstore.NewStatusCache(client, redisstore.StatusCacheOptions{})
	queue := memory.New(memory.Options{Capacity: 8, Concurrency: 2})
	p := &pipeline{
		cache:   cache,
		queue:   queue,
		storage: &objectStore{objects: map[string][]byte{}},
		index:   &vectorIndex{points: map[string]domain.ChunkRecord{}},
	}
	p.ingest = usecase.NewIngestionCoordinator(cache, p.storage, queue, usecase.CoordinatorOptions{
		Policy: domain.UploadPolicy{MaxBytes: 1 << 20, AllowedMimeTypes: domain.DefaultAllowedMimeTypes()},
	})
	processor := usecase.NewProcessDocumentUseCase(usecase.ProcessDeps{
		Cache:     cache,
		Lock:      redisstore.NewDocumentLock(client),
		Storage:   p.storage,
		Extractor: extractor.NewDefaultRegistry(),
		Chunker:   chunking.NewSplitter(testChunkSize, 0),
		Embedder:  embedder{},
		Index:     p.index,
	}, usecase.ProcessOptions{CallTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- queue.Consume(ctx, processor.Process) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func (p *pipeline) waitTerminal(t *testing.T, documentID, userID string) *domain.Document {
	t.Helper()
	var doc *domain.Document
	require.Eventually(t, func() bool {
		got, err := p.ingest.GetStatus(context.Background(), documentID, userID)
		if err != nil {
			return false
		}
		doc = got
		return got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return doc
}

func TestPipelineIndexesUploadedTextFile(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()
	content := strings.Repeat("abcdefghij", 50)

	grant, err := p.ingest.RequestUpload(ctx, domain.UploadRequest{
		Filename:     "notes.txt",
		UserID:       "u1",
		DeclaredSize: int64(len(content)),
	})
	require.NoError(t, err)
	p.storage.put(grant.ObjectKey, []byte(content))

	result, err := p.ingest.ConfirmUpload(ctx, grant.DocumentID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, result.Status)

	doc := p.waitTerminal(t, grant.DocumentID, "u1")
	expected := (len(content) + testChunkSize - 1) / testChunkSize
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.Equal(t, expected, doc.ChunksCreated)
	assert.Equal(t, expected, p.index.countFor(grant.DocumentID))
	assert.NotNil(t, doc.CompletedAt)

	again, err := p.ingest.ConfirmUpload(ctx, grant.DocumentID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
}

func TestPipelineRecordsFetchFailure(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()

	grant, err := p.ingest.RequestUpload(ctx, domain.UploadRequest{
		Filename:     "missing.txt",
		UserID:       "u1",
		DeclaredSize: 42,
	})
	require.NoError(t, err)

	_, err = p.ingest.ConfirmUpload(ctx, grant.DocumentID, "u1")
	require.NoError(t, err)

	doc := p.waitTerminal(t, grant.DocumentID, "u1")
	assert.Equal(t, domain.StatusError, doc.Status)
	assert.NotEmpty(t, doc.Error)
	assert.Zero(t, p.index.countFor(grant.DocumentID))

	_, err = p.ingest.GetStatus(ctx, grant.DocumentID, "u2")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

// droppingQueue accepts jobs and loses them, like a worker stopped before draining.
type droppingQueue struct{}

func (droppingQueue) Enqueue(context.Context, domain.ProcessingJob) error { return nil }

func TestPipelineRecoversLostJob(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()
	content := strings.Repeat("lost job ", 30)

	lossy := usecase.NewIngestionCoordinator(p.cache, p.storage, droppingQueue{}, usecase.CoordinatorOptions{
		Policy: domain.UploadPolicy{MaxBytes: 1 << 20, AllowedMimeTypes: domain.DefaultAllowedMimeTypes()},
	})
	grant, err := lossy.RequestUpload(ctx, domain.UploadRequest{
		Filename:     "notes.txt",
		UserID:       "u1",
		DeclaredSize: int64(len(content)),
	})
	require.NoError(t, err)
	p.storage.put(grant.ObjectKey, []byte(content))
	_, err = lossy.ConfirmUpload(ctx, grant.DocumentID, "u1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	doc, err := p.ingest.GetStatus(ctx, grant.DocumentID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, doc.Status, "job was dropped, nothing processed it")

	recovery := usecase.NewStalledJobRecovery(p.cache, p.queue, usecase.RecoveryOptions{StaleAfter: time.Millisecond})
	n, err := recovery.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc = p.waitTerminal(t, grant.DocumentID, "u1")
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, (len(content)+testChunkSize-1)/testChunkSize, doc.ChunksCreated)
}
