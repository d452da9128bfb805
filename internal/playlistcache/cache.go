package playlistcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTTL         = 30 * time.Second
	defaultSweepPeriod = 10 * time.Second
	defaultMaxEntries  = 500
)

type entry struct {
	body    []byte
	expires time.Time
}

// Cache is a bounded in-memory playlist cache. Values are the already
// rewritten manifest bodies, keyed by the canonical upstream URL, so a hit
// is served verbatim with no parsing.
type Cache struct {
	logger zerolog.Logger
	mu     sync.RWMutex

	entries    map[string]entry
	ttl        time.Duration
	sweep      time.Duration
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64

	shutdown chan struct{}
	once     sync.Once
}

type Config struct {
	TTL         time.Duration
	SweepPeriod time.Duration
	MaxEntries  int
}

func New(config Config) *Cache {
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.SweepPeriod <= 0 {
		config.SweepPeriod = defaultSweepPeriod
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultMaxEntries
	}

	return &Cache{
		logger:     log.With().Str("module", "playlistcache").Logger(),
		entries:    map[string]entry{},
		ttl:        config.TTL,
		sweep:      config.SweepPeriod,
		maxEntries: config.MaxEntries,
		shutdown:   make(chan struct{}),
	}
}

// Start launches the periodic sweep. Safe to call once per Cache.
func (c *Cache) Start() {
	go func() {
		ticker := time.NewTicker(c.sweep)
		defer ticker.Stop()

		for {
			select {
			case <-c.shutdown:
				return
			case <-ticker.C:
				c.logger.Debug().Msg("performing cleanup")
				c.clearExpired()
			}
		}
	}()
}

func (c *Cache) Stop() {
	c.once.Do(func() {
		close(c.shutdown)
	})
}

// Get returns the cached body for key, checking expiry lazily.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		c.logger.Debug().Str("key", key).Msg("cache miss")
		return nil, false
	}

	if time.Now().After(e.expires) {
		c.mu.Lock()
		// re-check under the write lock, a concurrent Set may have refreshed it
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()

		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	c.logger.Debug().Str("key", key).Msg("cache hit")
	return e.body, true
}

// Set stores body under key, overwriting and resetting the TTL. When the
// cache is full, the entry closest to expiry is evicted first.
func (c *Cache) Set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = entry{
		body:    body,
		expires: time.Now().Add(c.ttl),
	}
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = map[string]entry{}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) clearExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
			c.logger.Debug().Str("key", key).Msg("cache cleanup remove expired")
		}
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey = key
			oldest = e.expires
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
