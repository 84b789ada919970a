package ledger

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// KeyCache wraps a Reader with a bounded TTL cache for account keys.
// Keys rotate rarely; five minutes keeps the roster endpoint cheap.
type KeyCache struct {
	reader Reader
	cache  *expirable.LRU[string, *AccountKey]
}

// NewKeyCache caches up to size account keys for ttl (default 5 min).
func NewKeyCache(reader Reader, size int, ttl time.Duration) *KeyCache {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeyCache{
		reader: reader,
		cache:  expirable.NewLRU[string, *AccountKey](size, nil, ttl),
	}
}

// AccountKey returns the cached key or reads through to the mirror.
func (k *KeyCache) AccountKey(ctx context.Context, accountID string) (*AccountKey, error) {
	if key, ok := k.cache.Get(accountID); ok {
		return key, nil
	}
	key, err := k.reader.AccountKey(ctx, accountID)
	if err != nil {
		return nil, err
	}
	k.cache.Add(accountID, key)
	return key, nil
}

// TopicMessages delegates to the wrapped reader.
func (k *KeyCache) TopicMessages(ctx context.Context, topicID string, q Query) ([]TopicMessage, error) {
	return k.reader.TopicMessages(ctx, topicID, q)
}
