package nacosconfig

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/vitaliisemenov/nacos-config-go/internal/auth"
	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/internal/listener"
	"github.com/vitaliisemenov/nacos-config-go/internal/remote"
	"github.com/vitaliisemenov/nacos-config-go/internal/serverpool"
	"github.com/vitaliisemenov/nacos-config-go/internal/storage"
	"github.com/vitaliisemenov/nacos-config-go/internal/subscription"
	"github.com/vitaliisemenov/nacos-config-go/internal/transport"
	"github.com/vitaliisemenov/nacos-config-go/pkg/metrics"
)

// ConfigData is the full record returned by GetConfigData.
type ConfigData = core.ConfigData

// ConfigChangedEvent is delivered to subscribers on every observed MD5
// transition of a watched configuration.
type ConfigChangedEvent = core.ConfigChangedEvent

// Listener is a fire-and-forget change callback.
type Listener = core.Listener

// AsyncListener is a change callback whose returned error is logged by
// the dispatcher.
type AsyncListener = core.AsyncListener

// Client is the configuration-center facade. It is safe for concurrent
// use and intended to live as long as the application; the long-polling
// workers start lazily on the first Subscribe and stop on Close.
type Client struct {
	opts   Options
	logger *slog.Logger
	stats  *metrics.ClientMetrics

	transport *transport.Transport
	session   auth.Session
	remote    *remote.Client
	store     *storage.Store
	cache     *subscription.Cache
	manager   *listener.Manager

	startListening sync.Once
	closeOnce      sync.Once
}

// New builds a client from opts. The authentication session logs in
// eagerly so the first request does not pay the login latency; a login
// failure is logged, not fatal, and is retried before each request.
func New(opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	logger := opts.Logger

	var stats *metrics.ClientMetrics
	if !opts.DisableMetrics {
		stats = metrics.NewClientMetrics()
	}

	pool, err := serverpool.New(opts.ServerAddresses, logger)
	if err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}

	httpClient := transport.NewHTTPClient()
	tr := transport.New(pool, httpClient, transport.Config{
		ContextPath: opts.ContextPath,
		MaxRetry:    opts.MaxRetry,
		RetryDelay:  opts.RetryDelay,
	}, logger, stats)

	session := auth.NewSession(
		auth.Credentials{
			Username:  opts.Username,
			Password:  opts.Password,
			AccessKey: opts.AccessKey,
			SecretKey: opts.SecretKey,
		},
		auth.Config{
			Addresses:   pool.Addresses(),
			ContextPath: opts.ContextPath,
		},
		httpClient, logger)
	if err := session.Initialize(context.Background()); err != nil {
		tr.Close()
		return nil, err
	}

	remoteClient := remote.New(tr, session, logger, stats)
	store := storage.New(opts.SnapshotPath, *opts.EnableSnapshot, logger, stats)
	cache := subscription.NewCache(opts.ListenerTimeout, logger, stats)
	manager := listener.New(cache, remoteClient, listener.Config{
		Tenant:         opts.Namespace,
		ListenInterval: opts.ListenInterval,
		ProbeTimeout:   opts.LongPollingTimeout,
		FetchTimeout:   opts.DefaultTimeout,
	}, logger, stats)

	return &Client{
		opts:      opts,
		logger:    logger,
		stats:     stats,
		transport: tr,
		session:   session,
		remote:    remoteClient,
		store:     store,
		cache:     cache,
		manager:   manager,
	}, nil
}

// GetConfig resolves one configuration's content through the three tiers:
// a non-empty failover file wins outright, then the server (persisting a
// snapshot on success), then the snapshot when the server is unreachable.
// ErrConfigNotFound reports a configuration that does not exist.
func (c *Client) GetConfig(ctx context.Context, dataID, group string) (string, error) {
	data, err := c.GetConfigData(ctx, dataID, group)
	if err != nil {
		return "", err
	}
	return data.Content, nil
}

// GetConfigData is GetConfig returning the full record: content, content
// type, and MD5.
func (c *Client) GetConfigData(ctx context.Context, dataID, group string) (*ConfigData, error) {
	key, err := c.buildKey(dataID, group)
	if err != nil {
		return nil, err
	}

	if failover := c.store.ReadFailover(key); !failover.IsEmpty() {
		c.logger.Warn("serving failover config, server value ignored",
			slog.String("key", key.String()))
		return &ConfigData{
			Content:     failover.Content,
			ContentType: "text",
			MD5:         core.ContentMD5(failover.Content),
		}, nil
	}

	data, err := c.remote.GetConfig(ctx, key, c.opts.DefaultTimeout)
	switch {
	case err == nil && data == nil:
		return nil, ErrConfigNotFound
	case err == nil:
		c.store.WriteSnapshot(key, data.Content)
		return data, nil
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, context.Canceled):
		return nil, err
	}

	// The server is unreachable or misbehaving: fall back to the last
	// snapshot. An empty snapshot means the config was removed and must
	// not resurrect stale data.
	if snapshot := c.store.ReadSnapshot(key); !snapshot.IsEmpty() {
		c.logger.Warn("config server unavailable, serving snapshot",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
		return &ConfigData{
			Content:     snapshot.Content,
			ContentType: "text",
			MD5:         core.ContentMD5(snapshot.Content),
		}, nil
	}
	return nil, err
}

// PublishConfig creates or updates a configuration. contentType defaults
// to "text". On success the snapshot is refreshed so a later outage still
// serves this value.
func (c *Client) PublishConfig(ctx context.Context, dataID, group, content, contentType string) (bool, error) {
	key, err := c.buildKey(dataID, group)
	if err != nil {
		return false, err
	}

	ok, err := c.remote.PublishConfig(ctx, key, content, contentType, c.opts.DefaultTimeout)
	if err != nil {
		return false, err
	}
	if ok {
		c.store.WriteSnapshot(key, content)
	}
	return ok, nil
}

// RemoveConfig deletes a configuration. On success the snapshot is
// overwritten with an empty value so later reads do not resurrect it.
func (c *Client) RemoveConfig(ctx context.Context, dataID, group string) (bool, error) {
	key, err := c.buildKey(dataID, group)
	if err != nil {
		return false, err
	}

	ok, err := c.remote.RemoveConfig(ctx, key, c.opts.DefaultTimeout)
	if err != nil {
		return false, err
	}
	if ok {
		c.store.WriteSnapshot(key, "")
	}
	return ok, nil
}

// Subscribe registers cb for change events on (dataID, group). The
// long-polling workers start on the first subscription. Registering the
// same function value twice keeps a single registration. Identity is the
// function's code pointer, so closures created from one function literal
// count as the same callback. Release the returned subscription to stop
// receiving events.
func (c *Client) Subscribe(dataID, group string, cb Listener) (*Subscription, error) {
	key, err := c.buildKey(dataID, group)
	if err != nil {
		return nil, err
	}
	c.ensureListening()
	id := c.cache.Register(key, cb)
	return &Subscription{client: c, key: key, id: id}, nil
}

// SubscribeAsync registers a callback with a completion signal; its error
// is logged without affecting sibling listeners.
func (c *Client) SubscribeAsync(dataID, group string, cb AsyncListener) (*Subscription, error) {
	key, err := c.buildKey(dataID, group)
	if err != nil {
		return nil, err
	}
	c.ensureListening()
	id := c.cache.RegisterAsync(key, cb)
	return &Subscription{client: c, key: key, id: id}, nil
}

// Close stops the long-polling workers, the token refresh task, and the
// transport. The client must not be used afterwards.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.manager.Stop()
		c.session.Close()
		c.transport.Close()
		c.logger.Info("config client closed")
	})
}

func (c *Client) ensureListening() {
	c.startListening.Do(func() {
		if err := c.manager.Start(); err != nil {
			c.logger.Error("failed to start listening manager",
				slog.String("error", err.Error()))
		}
	})
}

// buildKey validates the identifiers and attaches the configured tenant.
// A blank group becomes DEFAULT_GROUP.
func (c *Client) buildKey(dataID, group string) (core.ConfigKey, error) {
	dataID = strings.TrimSpace(dataID)
	if dataID == "" {
		return core.ConfigKey{}, &ValidationError{Field: "dataId", Reason: "must not be empty"}
	}
	group = strings.TrimSpace(group)
	if group == "" {
		group = core.DefaultGroup
	}
	return core.ConfigKey{
		DataID: dataID,
		Group:  group,
		Tenant: c.opts.Namespace,
	}, nil
}
