// Package remote implements the config-service HTTP API: CRUD on
// configuration items and the long-polling change probe.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/nacos-config-go/internal/auth"
	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/internal/transport"
	"github.com/vitaliisemenov/nacos-config-go/internal/wire"
	"github.com/vitaliisemenov/nacos-config-go/pkg/metrics"
)

const (
	configsPath  = "v1/cs/configs"
	listenerPath = "v1/cs/configs/listener"

	clientVersion = "nacos-config-go:v1.0.0"

	// probeTimeoutFactor pads the HTTP deadline past the server-honored
	// probe timeout so the server gets its full budget.
	probeTimeoutFactor = 1.5
)

// Client issues config-service calls through the transport, applying
// authentication and the common request headers.
type Client struct {
	transport *transport.Transport
	session   auth.Session
	logger    *slog.Logger
	stats     *metrics.ClientMetrics
}

// New builds a remote client.
func New(tr *transport.Transport, session auth.Session, logger *slog.Logger, stats *metrics.ClientMetrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{transport: tr, session: session, logger: logger, stats: stats}
}

// GetConfig fetches one configuration item. It returns (nil, nil) when the
// item does not exist, core.ErrUnauthorized on 403, and a *core.RemoteError
// on any other non-2xx status.
func (c *Client) GetConfig(ctx context.Context, key core.ConfigKey, timeout time.Duration) (*core.ConfigData, error) {
	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	query := keyParams(key)
	c.session.ApplyToParams(query, key.Tenant, key.Group)

	header := commonHeaders()
	header.Set("notify", "false")

	resp, err := c.transport.Send(ctx, &transport.Request{
		Operation: "get_config",
		Method:    http.MethodGet,
		Path:      configsPath,
		Query:     query,
		Header:    header,
		Timeout:   timeout,
	})
	if err != nil {
		c.count("get_config", outcomeOf(err))
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.count("get_config", "success")
		contentType := resp.Header.Get("Config-Type")
		if contentType == "" {
			contentType = "text"
		}
		content := string(resp.Body)
		return &core.ConfigData{
			Content:          content,
			ContentType:      contentType,
			MD5:              core.ContentMD5(content),
			EncryptedDataKey: resp.Header.Get("Encrypted-Data-Key"),
		}, nil
	case resp.StatusCode == http.StatusNotFound:
		c.count("get_config", "not_found")
		return nil, nil
	case resp.StatusCode == http.StatusForbidden:
		c.count("get_config", "unauthorized")
		return nil, fmt.Errorf("get %s: %w", key, core.ErrUnauthorized)
	default:
		c.count("get_config", "error")
		return nil, &core.RemoteError{Operation: "get_config", StatusCode: resp.StatusCode}
	}
}

// PublishConfig creates or updates one configuration item. A non-2xx
// status other than 403 is logged and reported as false without an error.
func (c *Client) PublishConfig(ctx context.Context, key core.ConfigKey, content, contentType string, timeout time.Duration) (bool, error) {
	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return false, err
	}
	if contentType == "" {
		contentType = "text"
	}

	form := keyParams(key)
	form.Set("content", content)
	form.Set("type", contentType)
	c.session.ApplyToParams(form, key.Tenant, key.Group)

	resp, err := c.transport.Send(ctx, &transport.Request{
		Operation: "publish_config",
		Method:    http.MethodPost,
		Path:      configsPath,
		Form:      form,
		Header:    commonHeaders(),
		Timeout:   timeout,
	})
	if err != nil {
		c.count("publish_config", outcomeOf(err))
		return false, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.count("publish_config", "success")
		return true, nil
	case resp.StatusCode == http.StatusForbidden:
		c.count("publish_config", "unauthorized")
		return false, fmt.Errorf("publish %s: %w", key, core.ErrUnauthorized)
	default:
		c.count("publish_config", "error")
		c.logger.Warn("publish rejected by config server",
			slog.String("key", key.String()),
			slog.Int("status", resp.StatusCode))
		return false, nil
	}
}

// RemoveConfig deletes one configuration item. Outcomes mirror
// PublishConfig.
func (c *Client) RemoveConfig(ctx context.Context, key core.ConfigKey, timeout time.Duration) (bool, error) {
	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return false, err
	}

	query := keyParams(key)
	c.session.ApplyToParams(query, key.Tenant, key.Group)

	resp, err := c.transport.Send(ctx, &transport.Request{
		Operation: "remove_config",
		Method:    http.MethodDelete,
		Path:      configsPath,
		Query:     query,
		Header:    commonHeaders(),
		Timeout:   timeout,
	})
	if err != nil {
		c.count("remove_config", outcomeOf(err))
		return false, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.count("remove_config", "success")
		return true, nil
	case resp.StatusCode == http.StatusForbidden:
		c.count("remove_config", "unauthorized")
		return false, fmt.Errorf("remove %s: %w", key, core.ErrUnauthorized)
	default:
		c.count("remove_config", "error")
		c.logger.Warn("remove rejected by config server",
			slog.String("key", key.String()),
			slog.Int("status", resp.StatusCode))
		return false, nil
	}
}

// ListenConfigChanges performs one long-polling probe round and returns
// the keys the server reports as changed. An empty result after the
// server-side timeout is the normal quiet outcome. The bearer token and
// tenant go into the query string: the server reads authorization for this
// endpoint from there, not from the form body.
func (c *Client) ListenConfigChanges(ctx context.Context, items []wire.ListenItem, tenant string, probeTimeout time.Duration) ([]core.ConfigKey, error) {
	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	if tenant != "" {
		query.Set("tenant", tenant)
	}
	c.session.ApplyToParams(query, tenant, "")

	form := url.Values{}
	form.Set(wire.ListeningConfigsField, wire.EncodeListeningConfigs(items))

	header := commonHeaders()
	header.Set(wire.LongPollingTimeoutHeader, strconv.FormatInt(probeTimeout.Milliseconds(), 10))

	resp, err := c.transport.Send(ctx, &transport.Request{
		Operation: "listen",
		Method:    http.MethodPost,
		Path:      listenerPath,
		Query:     query,
		Form:      form,
		Header:    header,
		Timeout:   time.Duration(float64(probeTimeout) * probeTimeoutFactor),
	})
	if err != nil {
		c.count("listen", outcomeOf(err))
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		c.count("listen", "error")
		return nil, &core.RemoteError{Operation: "listen", StatusCode: resp.StatusCode}
	}

	changed := wire.DecodeChangedKeys(string(resp.Body))
	if len(changed) > 0 {
		c.count("listen", "changed")
		if c.stats != nil {
			c.stats.ChangedKeysTotal.Add(float64(len(changed)))
		}
	} else {
		c.count("listen", "unchanged")
	}
	return changed, nil
}

// keyParams builds the dataId/group[/tenant] parameter set shared by every
// CRUD call.
func keyParams(key core.ConfigKey) url.Values {
	params := url.Values{}
	params.Set("dataId", key.DataID)
	params.Set("group", key.Group)
	if key.Tenant != "" {
		params.Set("tenant", key.Tenant)
	}
	return params
}

// commonHeaders builds the headers every config-service request carries.
// Client-RequestToken is the MD5 of the request timestamp, which is what
// the server verifies.
func commonHeaders() http.Header {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	header := http.Header{}
	header.Set("Client-Version", clientVersion)
	header.Set("User-Agent", clientVersion)
	header.Set("Client-RequestTS", ts)
	header.Set("Client-RequestToken", core.ContentMD5(ts))
	header.Set("Request-Id", requestID())
	header.Set("Accept-Charset", "UTF-8")
	header.Set("exConfigInfo", "true")
	return header
}

// requestID returns a random 128-bit hex string.
func requestID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

func (c *Client) count(operation, outcome string) {
	if c.stats != nil {
		c.stats.RequestsTotal.WithLabelValues(operation, outcome).Inc()
	}
}

// outcomeOf maps a transport-level error to a metrics outcome label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
