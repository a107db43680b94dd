package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/nacos-config-go/internal/auth"
	"github.com/vitaliisemenov/nacos-config-go/internal/core"
	"github.com/vitaliisemenov/nacos-config-go/internal/serverpool"
	"github.com/vitaliisemenov/nacos-config-go/internal/transport"
	"github.com/vitaliisemenov/nacos-config-go/internal/wire"
)

func newClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	pool, err := serverpool.New([]string{server.URL}, nil)
	require.NoError(t, err)
	tr := transport.New(pool, nil, transport.Config{
		ContextPath: "nacos",
		MaxRetry:    1,
		RetryDelay:  time.Millisecond,
	}, nil, nil)

	session := auth.NewSession(auth.Credentials{}, auth.Config{}, nil, nil)
	return New(tr, session, nil, nil), server
}

func TestGetConfig_Success(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nacos/v1/cs/configs", r.URL.Path)
		assert.Equal(t, "app", r.URL.Query().Get("dataId"))
		assert.Equal(t, "DEFAULT_GROUP", r.URL.Query().Get("group"))
		assert.Equal(t, "false", r.Header.Get("notify"))
		assert.NotEmpty(t, r.Header.Get("Client-RequestTS"))
		assert.Equal(t, core.ContentMD5(r.Header.Get("Client-RequestTS")), r.Header.Get("Client-RequestToken"))
		assert.NotEmpty(t, r.Header.Get("Request-Id"))
		assert.Equal(t, "UTF-8", r.Header.Get("Accept-Charset"))
		assert.Equal(t, "true", r.Header.Get("exConfigInfo"))
		w.Header().Set("Config-Type", "yaml")
		w.Write([]byte("server:\n  port: 8080\n"))
	}))

	data, err := client.GetConfig(context.Background(),
		core.ConfigKey{DataID: "app", Group: "DEFAULT_GROUP"}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "server:\n  port: 8080\n", data.Content)
	assert.Equal(t, "yaml", data.ContentType)
	assert.Equal(t, core.ContentMD5(data.Content), data.MD5)
}

func TestGetConfig_NotFound(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	data, err := client.GetConfig(context.Background(),
		core.ConfigKey{DataID: "missing", Group: "g"}, time.Second)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestGetConfig_Unauthorized(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.GetConfig(context.Background(),
		core.ConfigKey{DataID: "app", Group: "g"}, time.Second)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestGetConfig_RemoteError(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	_, err := client.GetConfig(context.Background(),
		core.ConfigKey{DataID: "app", Group: "g"}, time.Second)
	var remoteErr *core.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusConflict, remoteErr.StatusCode)
}

func TestPublishConfig(t *testing.T) {
	var gotForm url.Values
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))

	ok, err := client.PublishConfig(context.Background(),
		core.ConfigKey{DataID: "app", Group: "g", Tenant: "t1"}, "hello", "", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "app", gotForm.Get("dataId"))
	assert.Equal(t, "g", gotForm.Get("group"))
	assert.Equal(t, "t1", gotForm.Get("tenant"))
	assert.Equal(t, "hello", gotForm.Get("content"))
	assert.Equal(t, "text", gotForm.Get("type"), "content type defaults to text")
}

func TestPublishConfig_RejectedLoggedNotFatal(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	ok, err := client.PublishConfig(context.Background(),
		core.ConfigKey{DataID: "app", Group: "g"}, "x", "text", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveConfig(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "app", r.URL.Query().Get("dataId"))
		w.WriteHeader(http.StatusOK)
	}))

	ok, err := client.RemoveConfig(context.Background(),
		core.ConfigKey{DataID: "app", Group: "g"}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListenConfigChanges(t *testing.T) {
	key := core.ConfigKey{DataID: "app", Group: "g", Tenant: "t1"}
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nacos/v1/cs/configs/listener", r.URL.Path)
		assert.Equal(t, "30000", r.Header.Get("Long-Pulling-Timeout"))
		assert.Equal(t, "t1", r.URL.Query().Get("tenant"), "tenant rides the query string")

		require.NoError(t, r.ParseForm())
		framed := r.PostForm.Get("Listening-Configs")
		assert.Equal(t, "app\x02g\x02md5x\x02t1\x01", framed)

		w.Write([]byte(url.QueryEscape("app\x02g\x02t1\x01")))
	}))

	changed, err := client.ListenConfigChanges(context.Background(),
		[]wire.ListenItem{{Key: key, MD5: "md5x"}}, "t1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []core.ConfigKey{key}, changed)
}

func TestListenConfigChanges_QuietRound(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	changed, err := client.ListenConfigChanges(context.Background(), nil, "", time.Second)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestListenConfigChanges_TokenInQueryString(t *testing.T) {
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/nacos/v1/auth/users/login" {
			w.Write([]byte(`{"accessToken":"tok123","tokenTtl":18000}`))
			return
		}
		assert.Equal(t, "tok123", r.URL.Query().Get("accessToken"))
		require.NoError(t, r.ParseForm())
		assert.Empty(t, r.PostForm.Get("accessToken"), "token must not leak into the form body")
		w.WriteHeader(http.StatusOK)
	}))
	defer login.Close()

	pool, err := serverpool.New([]string{login.URL}, nil)
	require.NoError(t, err)
	tr := transport.New(pool, nil, transport.Config{ContextPath: "nacos", MaxRetry: 0, RetryDelay: time.Millisecond}, nil, nil)
	session := auth.NewSession(
		auth.Credentials{Username: "nacos", Password: "nacos"},
		auth.Config{Addresses: []string{login.URL}, ContextPath: "nacos"},
		login.Client(), nil)
	client := New(tr, session, nil, nil)

	_, err = client.ListenConfigChanges(context.Background(), nil, "", time.Second)
	require.NoError(t, err)
}
