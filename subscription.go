package nacosconfig

import (
	"sync"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/internal/subscription"
)

// Subscription is the handle returned by Subscribe. Releasing it removes
// the listener; when the listener was the entry's last one, the entry is
// evicted and the prober stops watching the key.
type Subscription struct {
	client *Client
	key    core.ConfigKey
	id     subscription.ListenerID
	once   sync.Once
}

// Key returns the subscribed (dataId, group, tenant) identity as a
// human-readable string.
func (s *Subscription) Key() string {
	return s.key.String()
}

// Unsubscribe removes the listener. A fan-out whose listener snapshot is
// taken after Unsubscribe returns will not invoke the callback. Calling
// it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.cache.Deregister(s.key, s.id)
	})
}
