package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

var _ ports.DocumentLock = (*DocumentLock)(nil)

const lockKeyPrefix = "intranest:lock:document:"

// DocumentLock guards one document per worker with SET NX and an owner token.
type DocumentLock struct {
	client  redis.UniversalClient
	ownerID string
}

func NewDocumentLock(client redis.UniversalClient) *DocumentLock {
	return &DocumentLock{
		client:  client,
		ownerID: generateOwnerID(),
	}
}

// Format: hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

func (l *DocumentLock) Acquire(ctx context.Context, documentID string, ttl time.Duration) (bool, error) {
	acquired, err := l.client.SetNX(ctx, lockKeyPrefix+documentID, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", documentID, err)
	}
	return acquired, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release is a no-op when the lock expired or belongs to another owner.
func (l *DocumentLock) Release(ctx context.Context, documentID string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + documentID}, l.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", documentID, err)
	}
	return nil
}

func (l *DocumentLock) OwnerID() string {
	return l.ownerID
}
