package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

var _ ports.StatusCache = (*StatusCache)(nil)

const (
	documentKeyPrefix = "intranest:document:"
	scanBatch         = 100
)

type StatusCacheOptions struct {
	// Retention is the TTL applied once a document reaches completed or error.
	Retention time.Duration
	// CASRetries bounds how often an update is replayed after a concurrent write.
	CASRetries uint64
	CASBackoff time.Duration
}

// StatusCache stores one JSON document per key. Records without a terminal status
// never expire; terminal records expire after the retention window.
type StatusCache struct {
	client     redis.UniversalClient
	retention  time.Duration
	casRetries uint64
	casBackoff time.Duration
}

func NewStatusCache(client redis.UniversalClient, opts StatusCacheOptions) *StatusCache {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.CASRetries == 0 {
		opts.CASRetries = 10
	}
	if opts.CASBackoff <= 0 {
		opts.CASBackoff = 5 * time.Millisecond
	}
	return &StatusCache{
		client:     client,
		retention:  opts.Retention,
		casRetries: opts.CASRetries,
		casBackoff: opts.CASBackoff,
	}
}

func (c *StatusCache) Create(ctx context.Context, doc *domain.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	created, err := c.client.SetNX(ctx, documentKey(doc.DocumentID), data, c.ttlFor(doc)).Result()
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "create status", err)
	}
	if !created {
		return domain.WrapError(domain.ErrConflict, "create status", fmt.Errorf("document %s already exists", doc.DocumentID))
	}
	return nil
}

func (c *StatusCache) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	raw, err := c.client.Get(ctx, documentKey(documentID)).Bytes()
	if err != nil {
		return nil, mapRedisError("get status "+documentID, err)
	}
	return decodeDocument(raw)
}

func (c *StatusCache) Update(ctx context.Context, documentID string, mutate func(doc *domain.Document) error) (*domain.Document, error) {
	key := documentKey(documentID)
	backoff := retry.WithMaxRetries(c.casRetries, retry.WithJitter(c.casBackoff, retry.NewExponential(c.casBackoff)))

	var result *domain.Document
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			doc, err := decodeDocument(raw)
			if err != nil {
				return err
			}
			current := *doc
			if err := mutate(doc); err != nil {
				if errors.Is(err, domain.ErrNoChange) {
					result = &current
					return nil
				}
				return err
			}

			data, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("marshal document: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, c.ttlFor(doc))
				return nil
			})
			if err != nil {
				return err
			}
			result = doc
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, domain.WrapError(domain.ErrConflict, "update status "+documentID, err)
		}
		return nil, mapRedisError("update status "+documentID, err)
	}
	return result, nil
}

// ListStalled returns records still in processing whose processing started before cutoff.
// It walks the key space with SCAN, so records created during the walk may be missed.
func (c *StatusCache) ListStalled(ctx context.Context, cutoff time.Time) ([]*domain.Document, error) {
	var stalled []*domain.Document
	iter := c.client.Scan(ctx, 0, documentKeyPrefix+"*", scanBatch).Iterator()
	keys := make([]string, 0, scanBatch)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		values, err := c.client.MGet(ctx, keys...).Result()
		keys = keys[:0]
		if err != nil {
			return mapRedisError("list stalled", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			doc, err := decodeDocument([]byte(raw))
			if err != nil {
				continue
			}
			if doc.Status == domain.StatusProcessing && startedBefore(doc, cutoff) {
				stalled = append(stalled, doc)
			}
		}
		return nil
	}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == scanBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, mapRedisError("list stalled", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return stalled, nil
}

func startedBefore(doc *domain.Document, cutoff time.Time) bool {
	started := doc.UpdatedAt
	if doc.ProcessingStartedAt != nil {
		started = *doc.ProcessingStartedAt
	}
	return started.Before(cutoff)
}

func (c *StatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *StatusCache) ttlFor(doc *domain.Document) time.Duration {
	if doc.Status.Terminal() {
		return c.retention
	}
	return 0
}

func documentKey(documentID string) string {
	return documentKeyPrefix + documentID
}

func decodeDocument(raw []byte) (*domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// mapRedisError leaves domain errors produced by a mutation untouched.
func mapRedisError(operation string, err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return domain.WrapError(domain.ErrDocumentNotFound, operation, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isDomainError(err):
		return err
	default:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
}

func isDomainError(err error) bool {
	for _, kind := range []error{
		domain.ErrInvalidTransition,
		domain.ErrInvalidInput,
		domain.ErrForbidden,
		domain.ErrConflict,
		domain.ErrDocumentNotFound,
		domain.ErrProcessing,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
