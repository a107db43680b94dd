package subscription

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/internal/wire"
	"github.com/vitaliisemenov/nacos-config-go/pkg/metrics"
)

// Cache maps watched keys to their entries. Entry creation is
// get-or-insert atomic, and an entry whose last listener is removed is
// evicted so the prober stops probing it.
type Cache struct {
	mu      sync.RWMutex
	entries map[core.ConfigKey]*Entry

	listenerTimeout time.Duration
	logger          *slog.Logger
	stats           *metrics.ClientMetrics
}

// NewCache builds an empty subscription cache. listenerTimeout bounds each
// listener invocation during fan-out; zero means the default.
func NewCache(listenerTimeout time.Duration, logger *slog.Logger, stats *metrics.ClientMetrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if listenerTimeout <= 0 {
		listenerTimeout = DefaultListenerTimeout
	}
	return &Cache{
		entries:         make(map[core.ConfigKey]*Entry),
		listenerTimeout: listenerTimeout,
		logger:          logger,
		stats:           stats,
	}
}

// Register adds a fire-and-forget listener for key, creating the entry
// when it is the first subscription.
func (c *Cache) Register(key core.ConfigKey, cb core.Listener) ListenerID {
	return c.getOrCreate(key).addListener(cb)
}

// RegisterAsync adds a completion-signal listener for key.
func (c *Cache) RegisterAsync(key core.ConfigKey, cb core.AsyncListener) ListenerID {
	return c.getOrCreate(key).addAsyncListener(cb)
}

// Deregister removes the listener registered under id. When the entry has
// no listeners left it is evicted from the cache.
func (c *Cache) Deregister(key core.ConfigKey, id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	if entry.removeListener(id) == 0 {
		delete(c.entries, key)
		c.logger.Debug("subscription entry evicted", slog.String("key", key.String()))
	}
}

// Lookup returns the entry for key, or nil when nothing watches it.
func (c *Cache) Lookup(key core.ConfigKey) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// ListenItems snapshots the watched keys and their current digests for
// one probe round. Entries that lost their listeners since the snapshot
// of the map are skipped.
func (c *Cache) ListenItems() []wire.ListenItem {
	c.mu.RLock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	items := make([]wire.ListenItem, 0, len(entries))
	for _, e := range entries {
		if !e.HasListeners() {
			continue
		}
		items = append(items, wire.ListenItem{Key: e.Key(), MD5: e.MD5()})
	}
	return items
}

// Update applies a freshly fetched value to key's entry, fanning out to
// its listeners when the digest changed. A key nobody watches anymore is
// ignored.
func (c *Cache) Update(key core.ConfigKey, data *core.ConfigData) bool {
	entry := c.Lookup(key)
	if entry == nil {
		return false
	}
	return entry.UpdateContent(data.Content, data.MD5, data.ContentType, c.listenerTimeout, c.logger, c.stats)
}

func (c *Cache) getOrCreate(key core.ConfigKey) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		entry = newEntry(key)
		c.entries[key] = entry
	}
	return entry
}
