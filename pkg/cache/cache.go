// Package cache is a read-through result cache for read-only
// commands. Entries are keyed by a per-session fingerprint, aged out
// by TTL, evicted by LRU, and dropped wholesale whenever a mutating
// command touches the owning session.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

const shardCount = 16

// Config bounds the cache.
type Config struct {
	// Capacity is the total entry limit across all shards.
	Capacity int
	// TTL is how long an entry stays fresh after insertion.
	TTL time.Duration
}

// DefaultConfig returns the production cache settings.
func DefaultConfig() *Config {
	return &Config{
		Capacity: 1000,
		TTL:      5 * time.Minute,
	}
}

// WithCapacity overrides the entry limit.
func (c *Config) WithCapacity(n int) *Config {
	c.Capacity = n
	return c
}

// WithTTL overrides entry freshness.
func (c *Config) WithTTL(ttl time.Duration) *Config {
	c.TTL = ttl
	return c
}

// Stats is a snapshot for the stats endpoint.
type Stats struct {
	Entries       int    `json:"entries"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Evictions     uint64 `json:"evictions"`
}

type entry struct {
	key      string
	payload  any
	storedAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

// Compute produces a fresh payload on a cache miss.
type Compute func(ctx context.Context) (any, error)

// Cache is safe for concurrent use. At most one compute runs per
// fingerprint at a time; concurrent callers for the same fingerprint
// share the first caller's result.
type Cache struct {
	cfg    *Config
	log    *slog.Logger
	now    func() time.Time
	shards [shardCount]*shard
	flight singleflight.Group

	perShard int

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
	evictions     atomic.Uint64
}

// New builds a Cache. A nil cfg uses DefaultConfig.
func New(cfg *Config, log *slog.Logger) *Cache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		cfg: cfg,
		log: log.With("component", "cache"),
		now: time.Now,
	}
	c.perShard = cfg.Capacity / shardCount
	if c.perShard < 1 {
		c.perShard = 1
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries: make(map[string]*list.Element),
			lru:     list.New(),
		}
	}
	return c
}

// Fingerprint derives the cache key for cmd scoped to sessionID. The
// second return is false for commands that are not cache-eligible.
// The key is the session id joined to the first 16 hex digits of the
// SHA-256 of the sorted-key JSON of the output-affecting parameters.
func Fingerprint(sessionID string, cmd schema.Command) (string, bool) {
	ext, ok := cmd.(*schema.ExtractCommand)
	if !ok || !schema.CacheEligible(cmd) {
		return "", false
	}
	fields := map[string]any{
		"method":          ext.CommandMethod(),
		"selector":        ext.Selector,
		"extract_type":    string(ext.Kind),
		"multiple":        ext.Multiple,
		"trim_whitespace": ext.TrimWhitespace,
	}
	if ext.AttributeName != "" {
		fields["attribute_name"] = ext.AttributeName
	}
	if ext.PropertyName != "" {
		fields["property_name"] = ext.PropertyName
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return sessionID + ":" + hex.EncodeToString(sum[:8]), true
}

// GetOrCompute serves cmd from the cache when a fresh entry exists,
// otherwise runs compute and stores a successful payload. hit reports
// whether the payload came from the store. Commands that are not
// cache-eligible always compute and are never stored.
func (c *Cache) GetOrCompute(ctx context.Context, sessionID string, cmd schema.Command, compute Compute) (payload any, hit bool, err error) {
	key, ok := Fingerprint(sessionID, cmd)
	if !ok {
		payload, err = compute(ctx)
		return payload, false, err
	}

	if payload, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.log.Debug("cache hit", "fingerprint", key)
		return payload, true, nil
	}
	c.misses.Add(1)

	payload, err, _ = c.flight.Do(key, func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.insert(key, v)
		return v, nil
	})
	return payload, false, err
}

func (c *Cache) lookup(key string) (any, bool) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.storedAt) >= c.cfg.TTL {
		sh.lru.Remove(el)
		delete(sh.entries, key)
		return nil, false
	}
	sh.lru.MoveToFront(el)
	return e.payload, true
}

func (c *Cache) insert(key string, payload any) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.entries[key]; ok {
		e := el.Value.(*entry)
		e.payload = payload
		e.storedAt = c.now()
		sh.lru.MoveToFront(el)
		return
	}
	for sh.lru.Len() >= c.perShard {
		oldest := sh.lru.Back()
		if oldest == nil {
			break
		}
		sh.lru.Remove(oldest)
		delete(sh.entries, oldest.Value.(*entry).key)
		c.evictions.Add(1)
	}
	sh.entries[key] = sh.lru.PushFront(&entry{key: key, payload: payload, storedAt: c.now()})
}

// InvalidateSession removes every entry scoped to sessionID and
// returns how many were dropped.
func (c *Cache) InvalidateSession(sessionID string) int {
	prefix := sessionID + ":"
	dropped := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for key, el := range sh.entries {
			if strings.HasPrefix(key, prefix) {
				sh.lru.Remove(el)
				delete(sh.entries, key)
				dropped++
			}
		}
		sh.mu.Unlock()
	}
	if dropped > 0 {
		c.invalidations.Add(uint64(dropped))
		c.log.Debug("invalidated session entries",
			"session_id", sessionID,
			"dropped", dropped)
	}
	return dropped
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	entries := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		entries += len(sh.entries)
		sh.mu.Unlock()
	}
	return Stats{
		Entries:       entries,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
	}
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}
