// Package serverpool tracks the health of the configured server addresses
// and hands out healthy ones round-robin.
package serverpool

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxFailures is the consecutive-failure threshold after which a server
	// is excluded from selection.
	maxFailures = 3

	// recoveryWindow is how long a server stays excluded after its last
	// recorded failure before it is given another chance.
	recoveryWindow = 10 * time.Second
)

// serverHealth is the per-address failure accounting. failureCount and
// lastFailureNano are only ever touched atomically.
type serverHealth struct {
	failureCount    atomic.Int32
	lastFailureNano atomic.Int64
}

func (h *serverHealth) healthy() bool {
	return h.failureCount.Load() < maxFailures
}

// Pool selects among a fixed list of server addresses, preferring healthy
// ones. The address list is normalized once at construction and never
// changes; only the health state is mutable.
type Pool struct {
	addresses []string
	health    map[string]*serverHealth

	counter atomic.Uint64

	// healthyCache holds the current healthy sublist. Rebuilds are
	// serialized by rebuildMu with a double-check so concurrent selectors
	// collapse into one rebuild.
	healthyCache atomic.Pointer[[]string]
	rebuildMu    sync.Mutex

	logger *slog.Logger
}

// New builds a pool from the raw configured addresses. Each address is
// trimmed of trailing slashes and given an http:// scheme when it has none.
// An empty list is a configuration error.
func New(addresses []string, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	normalized := make([]string, 0, len(addresses))
	health := make(map[string]*serverHealth, len(addresses))
	for _, addr := range addresses {
		addr = NormalizeAddress(addr)
		if addr == "" {
			continue
		}
		if _, dup := health[addr]; dup {
			continue
		}
		normalized = append(normalized, addr)
		health[addr] = &serverHealth{}
	}

	if len(normalized) == 0 {
		return nil, fmt.Errorf("server address list is empty")
	}

	p := &Pool{
		addresses: normalized,
		health:    health,
		logger:    logger,
	}
	p.healthyCache.Store(&normalized)
	return p, nil
}

// NormalizeAddress strips trailing slashes and defaults the scheme to
// http:// when none is present.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return ""
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return addr
}

// Addresses returns the normalized address list.
func (p *Pool) Addresses() []string {
	return p.addresses
}

// Select returns the next healthy address round-robin. When every address is
// unhealthy it first recovers addresses whose last failure is older than the
// recovery window; if none recover, the first configured address is returned
// as a last resort.
func (p *Pool) Select() string {
	var healthy []string
	if cached := p.healthyCache.Load(); cached != nil {
		healthy = *cached
	}
	if len(healthy) == 0 {
		healthy = p.recoverAndRebuild()
	}
	if len(healthy) == 0 {
		p.logger.Warn("no healthy config servers, falling back to first address",
			slog.String("address", p.addresses[0]))
		return p.addresses[0]
	}
	idx := p.counter.Add(1) % uint64(len(healthy))
	return healthy[idx]
}

// MarkFailed records a failed send to addr. The healthy-list cache is only
// invalidated when this failure pushes the server across the healthy
// boundary.
func (p *Pool) MarkFailed(addr string) {
	h, ok := p.health[addr]
	if !ok {
		return
	}
	h.lastFailureNano.Store(time.Now().UnixNano())
	count := h.failureCount.Add(1)
	if count == maxFailures {
		p.logger.Warn("config server marked unhealthy",
			slog.String("address", addr),
			slog.Int("failures", int(count)))
		p.invalidate()
	}
}

// MarkHealthy resets addr's failure count. The cache is only invalidated
// when the server was actually unhealthy before the reset.
func (p *Pool) MarkHealthy(addr string) {
	h, ok := p.health[addr]
	if !ok {
		return
	}
	wasUnhealthy := !h.healthy()
	h.failureCount.Store(0)
	if wasUnhealthy {
		p.logger.Info("config server recovered", slog.String("address", addr))
		p.invalidate()
	}
}

// invalidate drops the cached healthy list so the next Select rebuilds it.
func (p *Pool) invalidate() {
	p.healthyCache.Store(nil)
}

// recoverAndRebuild resets servers whose last failure is older than the
// recovery window, then rebuilds the healthy-list cache under the rebuild
// lock with a double-check.
func (p *Pool) recoverAndRebuild() []string {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	if cached := p.healthyCache.Load(); cached != nil && len(*cached) > 0 {
		return *cached
	}

	cutoff := time.Now().Add(-recoveryWindow).UnixNano()
	for addr, h := range p.health {
		if !h.healthy() && h.lastFailureNano.Load() < cutoff {
			h.failureCount.Store(0)
			p.logger.Info("config server failure window elapsed, retrying",
				slog.String("address", addr))
		}
	}

	healthy := make([]string, 0, len(p.addresses))
	for _, addr := range p.addresses {
		if p.health[addr].healthy() {
			healthy = append(healthy, addr)
		}
	}
	p.healthyCache.Store(&healthy)
	return healthy
}
