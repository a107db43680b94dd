// Package subscription holds the cache of watched configurations: one
// entry per key with its current content, MD5, and listener list, plus the
// fan-out machinery that delivers changes to subscribers.
package subscription

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/pkg/metrics"
)

// DefaultListenerTimeout bounds how long the fan-out waits for one
// listener before abandoning it and moving on.
const DefaultListenerTimeout = 30 * time.Second

// ListenerID identifies a registered callback. Registering the same
// function value twice yields the same ID, which makes registration
// idempotent and removal find the original.
type ListenerID uintptr

// adapter wraps both listener shapes into the asynchronous one so the
// entry keeps a single uniform list.
type adapter struct {
	id     ListenerID
	invoke core.AsyncListener
}

// Entry is the per-key subscription state. The mutex guards content, md5,
// and the listener list; it is held only for in-memory mutation and the
// listener snapshot, never across a listener invocation.
type Entry struct {
	key core.ConfigKey

	mu          sync.Mutex
	content     string
	md5         string
	contentType string
	listeners   []*adapter
	byID        map[ListenerID]*adapter
}

func newEntry(key core.ConfigKey) *Entry {
	return &Entry{
		key:  key,
		byID: make(map[ListenerID]*adapter),
	}
}

// Key returns the configuration key this entry watches.
func (e *Entry) Key() core.ConfigKey { return e.key }

// MD5 returns the digest of the currently held content.
func (e *Entry) MD5() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.md5
}

// HasListeners reports whether anyone is still subscribed.
func (e *Entry) HasListeners() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners) > 0
}

// identityOf derives the registration identity from the function value.
func identityOf(fn any) ListenerID {
	return ListenerID(reflect.ValueOf(fn).Pointer())
}

// addListener registers a fire-and-forget callback. Duplicate
// registration of the same callback is a no-op.
func (e *Entry) addListener(cb core.Listener) ListenerID {
	id := identityOf(cb)
	e.addAdapter(&adapter{
		id: id,
		invoke: func(event core.ConfigChangedEvent) error {
			cb(event)
			return nil
		},
	})
	return id
}

// addAsyncListener registers a callback with a completion signal.
func (e *Entry) addAsyncListener(cb core.AsyncListener) ListenerID {
	id := identityOf(cb)
	e.addAdapter(&adapter{id: id, invoke: cb})
	return id
}

func (e *Entry) addAdapter(a *adapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byID[a.id]; exists {
		return
	}
	e.byID[a.id] = a
	e.listeners = append(e.listeners, a)
}

// removeListener removes by registration identity and returns how many
// listeners remain.
func (e *Entry) removeListener(id ListenerID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byID[id]; !exists {
		return len(e.listeners)
	}
	delete(e.byID, id)
	for i, a := range e.listeners {
		if a.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			break
		}
	}
	return len(e.listeners)
}

// UpdateContent applies a server-observed value to the entry. When the MD5
// is unchanged nothing happens. Otherwise the content is swapped and the
// listener list snapshotted under the lock, then the lock is released and
// every snapshotted listener is invoked with individual isolation: a
// panic, a returned error, or an overrun of listenerTimeout is logged and
// never stops the siblings.
func (e *Entry) UpdateContent(content, md5, contentType string, listenerTimeout time.Duration, logger *slog.Logger, stats *metrics.ClientMetrics) bool {
	if listenerTimeout <= 0 {
		listenerTimeout = DefaultListenerTimeout
	}

	e.mu.Lock()
	if md5 == e.md5 {
		e.mu.Unlock()
		return false
	}
	oldContent := e.content
	e.content = content
	e.md5 = md5
	if contentType != "" {
		e.contentType = contentType
	}
	snapshot := make([]*adapter, len(e.listeners))
	copy(snapshot, e.listeners)
	event := core.ConfigChangedEvent{
		Key:         e.key,
		Content:     content,
		OldContent:  oldContent,
		ContentType: e.contentType,
		Timestamp:   time.Now().UTC(),
	}
	e.mu.Unlock()

	start := time.Now()
	for _, a := range snapshot {
		e.deliver(a, event, listenerTimeout, logger, stats)
	}
	if stats != nil && len(snapshot) > 0 {
		stats.FanoutDuration.Observe(time.Since(start).Seconds())
	}
	return true
}

// deliver runs one listener in its own goroutine and waits at most
// listenerTimeout for it. An abandoned listener keeps running; the
// fan-out just stops waiting.
func (e *Entry) deliver(a *adapter, event core.ConfigChangedEvent, timeout time.Duration, logger *slog.Logger, stats *metrics.ClientMetrics) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("listener panicked: %v", r)
			}
		}()
		done <- a.invoke(event)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			e.countFailure(stats)
			logger.Warn("config change listener failed",
				slog.String("key", e.key.String()),
				slog.String("error", err.Error()))
		}
	case <-timer.C:
		e.countFailure(stats)
		logger.Warn("config change listener timed out, abandoning",
			slog.String("key", e.key.String()),
			slog.Duration("timeout", timeout))
	}
}

func (e *Entry) countFailure(stats *metrics.ClientMetrics) {
	if stats != nil {
		stats.ListenerFailuresTotal.Inc()
	}
}
