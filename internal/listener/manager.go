// Package listener runs the long-polling pipeline: a prober worker that
// asks the server which watched configurations changed, and a dispatcher
// worker that fetches fresh content and fans it out through the
// subscription cache.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/internal/subscription"
	"github.com/vitaliisemenov/nacos-config-go/internal/wire"
	"github.com/vitaliisemenov/nacos-config-go/pkg/metrics"
)

const (
	// queueCapacity sizes the prober→dispatcher channel. The producer is
	// bounded by the probe cadence, so this is effectively never full.
	queueCapacity = 1024

	// probeYield paces consecutive probe rounds.
	probeYield = 100 * time.Millisecond

	// errorPause is how long the prober sleeps after an unexpected
	// failure before trying again.
	errorPause = 5 * time.Second
)

// RemoteClient is the slice of the remote API the workers drive.
type RemoteClient interface {
	ListenConfigChanges(ctx context.Context, items []wire.ListenItem, tenant string, probeTimeout time.Duration) ([]core.ConfigKey, error)
	GetConfig(ctx context.Context, key core.ConfigKey, timeout time.Duration) (*core.ConfigData, error)
}

// Config tunes the two workers.
type Config struct {
	Tenant         string
	ListenInterval time.Duration // pause when nothing is subscribed
	ProbeTimeout   time.Duration // server-honored long-poll budget
	FetchTimeout   time.Duration // per-fetch budget in the dispatcher
}

// Manager owns the prober and dispatcher goroutines. Start and Stop may
// be called from any goroutine; a second Start without an intervening
// Stop is refused.
type Manager struct {
	cache  *subscription.Cache
	remote RemoteClient
	cfg    Config
	logger *slog.Logger
	stats  *metrics.ClientMetrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	queue   chan core.ConfigKey
}

// New builds a manager over the cache and remote client.
func New(cache *subscription.Cache, remote RemoteClient, cfg Config, logger *slog.Logger, stats *metrics.ClientMetrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cache:  cache,
		remote: remote,
		cfg:    cfg,
		logger: logger,
		stats:  stats,
	}
}

// Start launches both workers. It fails when the manager is already
// running.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.logger.Error("listening manager already started")
		return fmt.Errorf("listening manager already started")
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.queue = make(chan core.ConfigKey, queueCapacity)

	m.wg.Add(2)
	go m.probeLoop(ctx)
	go m.dispatchLoop(ctx)

	m.logger.Info("listening manager started")
	return nil
}

// Stop cancels both workers, waits for them, and closes the queue. Safe
// to call repeatedly; after a Stop the manager may be started again.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.wg.Wait()
	close(m.queue)
	m.running = false
	m.logger.Info("listening manager stopped")
}

// probeLoop drives the long-polling rounds. A round with nothing watched
// just sleeps; an unexpected error pauses before retrying so a broken
// server is not hammered.
func (m *Manager) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	yield := rate.NewLimiter(rate.Every(probeYield), 1)
	for {
		if ctx.Err() != nil {
			return
		}

		items := m.cache.ListenItems()
		if len(items) == 0 {
			if !sleepCtx(ctx, m.cfg.ListenInterval) {
				return
			}
			continue
		}

		changed, err := m.remote.ListenConfigChanges(ctx, items, m.cfg.Tenant, m.cfg.ProbeTimeout)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			m.countProbe("error")
			m.logger.Warn("config change probe failed",
				slog.Int("watched", len(items)),
				slog.String("error", err.Error()))
			if !sleepCtx(ctx, errorPause) {
				return
			}
			continue
		}

		if len(changed) > 0 {
			m.countProbe("changed")
		} else {
			m.countProbe("unchanged")
		}
		for _, key := range changed {
			select {
			case m.queue <- key:
			case <-ctx.Done():
				return
			}
		}

		if err := yield.Wait(ctx); err != nil {
			return
		}
	}
}

// dispatchLoop serializes change handling: fetch the fresh value, hand it
// to the cache entry, let the entry decide whether to fan out. Per-key
// ordering follows from the single reader.
func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case key := <-m.queue:
			m.handleChange(ctx, key)
		}
	}
}

func (m *Manager) handleChange(ctx context.Context, key core.ConfigKey) {
	entry := m.cache.Lookup(key)
	if entry == nil {
		return
	}

	fresh, err := m.remote.GetConfig(ctx, key, m.cfg.FetchTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Warn("failed to fetch changed config",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
		return
	}
	if fresh == nil {
		m.logger.Warn("changed config no longer exists on server",
			slog.String("key", key.String()))
		return
	}

	m.cache.Update(key, fresh)
}

func (m *Manager) countProbe(outcome string) {
	if m.stats != nil {
		m.stats.ProbeRoundsTotal.WithLabelValues(outcome).Inc()
	}
}

// sleepCtx waits for d or until ctx is done; it reports whether the full
// wait completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
