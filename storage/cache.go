package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const treeGenerationKey = "tree:gen"

// TreeCache holds rendered task hierarchies in Redis. Any task mutation can
// change any tree, so entries are keyed by a generation counter that Evict
// bumps instead of tracking which trees a task belongs to.
// A nil *TreeCache, or one without a client, caches nothing.
type TreeCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewTreeCache creates a cache over client with the given entry TTL.
func NewTreeCache(client *redis.Client, ttl time.Duration) *TreeCache {
	if ttl < 0 {
		ttl = 0
	}
	return &TreeCache{redis: client, ttl: ttl}
}

func (c *TreeCache) enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

// Load returns the cached tree for rootID. On a miss it also returns the key
// a freshly built tree should be stored under: the key is bound to the
// generation seen here, so a tree built across an Evict is never served.
// An empty key means nothing should be stored.
func (c *TreeCache) Load(ctx context.Context, rootID string) ([]byte, string, bool) {
	if !c.enabled() {
		return nil, "", false
	}
	key, err := c.key(ctx, rootID)
	if err != nil {
		log.WithError(err).WithField("task", rootID).Debug("tree cache generation read failed")
		return nil, "", false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("task", rootID).Debug("tree cache read failed")
		}
		return nil, key, false
	}
	return data, key, true
}

// Store caches data under a key returned by Load.
func (c *TreeCache) Store(ctx context.Context, key string, data []byte) {
	if !c.enabled() || key == "" {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("failed to store tree cache entry")
	}
}

// Evict invalidates every cached tree.
func (c *TreeCache) Evict(ctx context.Context) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, treeGenerationKey).Err(); err != nil {
		log.WithError(err).Warn("failed to evict tree cache")
	}
}

func (c *TreeCache) key(ctx context.Context, rootID string) (string, error) {
	gen, err := c.redis.Get(ctx, treeGenerationKey).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return "tree:" + strconv.FormatInt(gen, 10) + ":" + rootID, nil
}
