// Package storage keeps the two local tiers of the read strategy: the
// manually placed failover files that override the server, and the
// snapshots of the last value successfully read from or published to it.
package storage

import (
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/pkg/metrics"
)

// snapshotCacheSize bounds the in-memory copy of recently read snapshots.
const snapshotCacheSize = 256

// Store reads and writes the per-key failover and snapshot files. Writes
// are best-effort: persistence failures are logged, never surfaced.
// Failover reads always hit the disk so manually placed files are noticed;
// snapshot reads go through a small LRU that every write refreshes.
type Store struct {
	root    string
	enabled bool
	logger  *slog.Logger
	stats   *metrics.ClientMetrics

	snapshots *lru.Cache[string, core.LocalConfigData]
}

// New builds a store rooted at root. When enabled is false every operation
// short-circuits. Directories are created lazily on first write.
func New(root string, enabled bool, logger *slog.Logger, stats *metrics.ClientMetrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, core.LocalConfigData](snapshotCacheSize)
	return &Store{
		root:      root,
		enabled:   enabled,
		logger:    logger,
		stats:     stats,
		snapshots: cache,
	}
}

// DefaultRoot returns the platform-local default snapshot directory.
func DefaultRoot() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base, err = os.UserHomeDir()
		if err != nil {
			base = "."
		}
	}
	return filepath.Join(base, "nacos", "config")
}

// FailoverPath is {root}/data/config-data/{tenantOrPublic}/{group}/{dataId}.
func (s *Store) FailoverPath(key core.ConfigKey) string {
	return filepath.Join(s.root, "data", "config-data", key.TenantOrPublic(), key.Group, key.DataID)
}

// SnapshotPath is {root}/snapshot/{tenantOrPublic}/{group}/{dataId}.
func (s *Store) SnapshotPath(key core.ConfigKey) string {
	return filepath.Join(s.root, "snapshot", key.TenantOrPublic(), key.Group, key.DataID)
}

// ReadFailover returns the failover record for key, or nil when the file
// is absent or unreadable.
func (s *Store) ReadFailover(key core.ConfigKey) *core.LocalConfigData {
	if !s.enabled {
		return nil
	}
	return s.readFile(s.FailoverPath(key))
}

// ReadSnapshot returns the snapshot record for key, or nil when absent.
func (s *Store) ReadSnapshot(key core.ConfigKey) *core.LocalConfigData {
	if !s.enabled {
		return nil
	}
	path := s.SnapshotPath(key)
	if data, ok := s.snapshots.Get(path); ok {
		return &data
	}
	record := s.readFile(path)
	if record != nil {
		s.snapshots.Add(path, *record)
	}
	return record
}

// WriteSnapshot persists content as key's snapshot. Failures are logged
// and swallowed: the snapshot tier must never break the operation that
// produced the value.
func (s *Store) WriteSnapshot(key core.ConfigKey, content string) {
	if !s.enabled {
		return
	}
	path := s.SnapshotPath(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logWriteFailure(key, err)
		return
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.snapshots.Remove(path)
		s.logWriteFailure(key, err)
		return
	}

	if info, err := os.Stat(path); err == nil {
		s.snapshots.Add(path, core.LocalConfigData{Content: content, LastModified: info.ModTime()})
	} else {
		s.snapshots.Remove(path)
	}
	if s.stats != nil {
		s.stats.SnapshotWritesTotal.WithLabelValues("success").Inc()
	}
}

func (s *Store) logWriteFailure(key core.ConfigKey, err error) {
	if s.stats != nil {
		s.stats.SnapshotWritesTotal.WithLabelValues("error").Inc()
	}
	s.logger.Warn("snapshot write failed",
		slog.String("key", key.String()),
		slog.String("error", err.Error()))
}

func (s *Store) readFile(path string) *core.LocalConfigData {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("local config read failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	return &core.LocalConfigData{
		Content:      string(content),
		LastModified: info.ModTime(),
	}
}
