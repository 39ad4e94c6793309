package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func pendingDocument(id string) *domain.Document {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Document{
		DocumentID: id,
		Filename:   "notes.txt",
		MimeType:   domain.MimePlainText,
		UserID:     "u1",
		TenantID:   domain.DefaultTenantID,
		Status:     domain.StatusUploadPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStatusCacheCreateAndGet(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{Retention: time.Hour})
	ctx := context.Background()

	require.NoError(t, cache.Create(ctx, pendingDocument("doc-1")))
	assert.Zero(t, mr.TTL(documentKey("doc-1")), "pending records must not expire")

	doc, err := cache.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploadPending, doc.Status)
	assert.Equal(t, "u1", doc.UserID)

	err = cache.Create(ctx, pendingDocument("doc-1"))
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestStatusCacheGetMissing(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{})

	_, err := cache.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)

	_, err = cache.Update(context.Background(), "missing", func(*domain.Document) error { return nil })
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestStatusCacheTerminalRecordsExpire(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{Retention: time.Hour})
	ctx := context.Background()
	require.NoError(t, cache.Create(ctx, pendingDocument("doc-1")))

	_, err := cache.Update(ctx, "doc-1", func(d *domain.Document) error {
		return d.TransitionTo(domain.StatusProcessing, time.Now())
	})
	require.NoError(t, err)
	assert.Zero(t, mr.TTL(documentKey("doc-1")))

	updated, err := cache.Update(ctx, "doc-1", func(d *domain.Document) error {
		d.ChunksCreated = 3
		return d.TransitionTo(domain.StatusCompleted, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	assert.Equal(t, time.Hour, mr.TTL(documentKey("doc-1")))

	mr.FastForward(2 * time.Hour)
	_, err = cache.Get(ctx, "doc-1")
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestStatusCacheUpdateNoChange(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{})
	ctx := context.Background()
	require.NoError(t, cache.Create(ctx, pendingDocument("doc-1")))

	doc, err := cache.Update(ctx, "doc-1", func(d *domain.Document) error {
		d.Message = "scribbled"
		return domain.ErrNoChange
	})
	require.NoError(t, err)
	assert.Empty(t, doc.Message)

	stored, err := cache.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, stored.Message)
}

func TestStatusCacheUpdatePropagatesMutationError(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{})
	ctx := context.Background()
	require.NoError(t, cache.Create(ctx, pendingDocument("doc-1")))

	_, err := cache.Update(ctx, "doc-1", func(d *domain.Document) error {
		return d.TransitionTo(domain.StatusCompleted, time.Now())
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.False(t, errors.Is(err, domain.ErrTemporary))
}

func TestStatusCacheConcurrentUpdatesAreSerialized(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{CASRetries: 100, CASBackoff: time.Millisecond})
	ctx := context.Background()
	require.NoError(t, cache.Create(ctx, pendingDocument("doc-1")))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Update(ctx, "doc-1", func(d *domain.Document) error {
				d.ChunksAttempted++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := cache.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 10, doc.ChunksAttempted)
}

func TestStatusCacheSingleDispatch(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{CASRetries: 100, CASBackoff: time.Millisecond})
	ctx := context.Background()
	require.NoError(t, cache.Create(ctx, pendingDocument("doc-1")))

	var mu sync.Mutex
	dispatched := 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won := false
			_, err := cache.Update(ctx, "doc-1", func(d *domain.Document) error {
				won = false
				if d.Status != domain.StatusUploadPending {
					return domain.ErrNoChange
				}
				won = true
				return d.TransitionTo(domain.StatusProcessing, time.Now())
			})
			assert.NoError(t, err)
			if won {
				mu.Lock()
				dispatched++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, dispatched)
}

func TestDocumentLock(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	first := NewDocumentLock(client)
	second := NewDocumentLock(client)
	require.NotEqual(t, first.OwnerID(), second.OwnerID())

	acquired, err := first.Acquire(ctx, "doc-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = second.Acquire(ctx, "doc-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, second.Release(ctx, "doc-1"))
	acquired, err = second.Acquire(ctx, "doc-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "release by a foreign owner must not free the lock")

	require.NoError(t, first.Release(ctx, "doc-1"))
	acquired, err = second.Acquire(ctx, "doc-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestDocumentLockExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewDocumentLock(client)

	acquired, err := lock.Acquire(ctx, "doc-1", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Second)
	acquired, err = NewDocumentLock(client).Acquire(ctx, "doc-1", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestStatusCacheListStalled(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewStatusCache(client, StatusCacheOptions{})
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(id string, status domain.DocumentStatus, startedAgo time.Duration) {
		doc := pendingDocument(id)
		doc.Status = status
		if status != domain.StatusUploadPending {
			started := now.Add(-startedAgo)
			doc.ProcessingStartedAt = &started
		}
		require.NoError(t, cache.Create(ctx, doc))
	}
	seed("old-processing", domain.StatusProcessing, time.Hour)
	seed("fresh-processing", domain.StatusProcessing, time.Minute)
	seed("old-completed", domain.StatusCompleted, time.Hour)
	seed("pending", domain.StatusUploadPending, 0)
	for i := range 150 {
		seed(fmt.Sprintf("bulk-%03d", i), domain.StatusProcessing, 2*time.Hour)
	}
	require.NoError(t, client.Set(ctx, documentKey("garbage"), "{not json", 0).Err())

	stalled, err := cache.ListStalled(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, doc := range stalled {
		ids[doc.DocumentID] = true
	}
	assert.Len(t, ids, 151)
	assert.True(t, ids["old-processing"])
	assert.False(t, ids["fresh-processing"])
	assert.False(t, ids["old-completed"])
	assert.False(t, ids["pending"])
}
