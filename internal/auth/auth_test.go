package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Dispatch(t *testing.T) {
	cfg := Config{Addresses: []string{"http://localhost:8848"}, ContextPath: "nacos"}

	t.Run("no credentials", func(t *testing.T) {
		s := NewSession(Credentials{}, cfg, nil, nil)
		assert.False(t, s.Enabled())
	})

	t.Run("username wins over access key", func(t *testing.T) {
		s := NewSession(Credentials{
			Username: "nacos", Password: "nacos",
			AccessKey: "ak", SecretKey: "sk",
		}, cfg, nil, nil)
		_, ok := s.(*userPassSession)
		assert.True(t, ok)
	})

	t.Run("access key pair", func(t *testing.T) {
		s := NewSession(Credentials{AccessKey: "ak", SecretKey: "sk"}, cfg, nil, nil)
		_, ok := s.(*signedSession)
		assert.True(t, ok)
	})

	t.Run("access key without secret falls back to none", func(t *testing.T) {
		s := NewSession(Credentials{AccessKey: "ak"}, cfg, nil, nil)
		assert.False(t, s.Enabled())
	})
}

func TestTokenInfo_IsValid(t *testing.T) {
	var token TokenInfo

	assert.False(t, token.IsValid(), "empty token is invalid")

	token.Update("tok", 18000)
	assert.True(t, token.IsValid())

	token.Update("tok", 0)
	assert.False(t, token.IsValid(), "zero ttl never validates")

	// Backdate the refresh past 90% of the TTL.
	token.Update("tok", 10)
	token.mu.Lock()
	token.lastRefresh = time.Now().Add(-9500 * time.Millisecond)
	token.mu.Unlock()
	assert.False(t, token.IsValid())
}

func TestSignedSession_ApplyToParams(t *testing.T) {
	s := newSignedSession("ak", "sk")

	params := url.Values{}
	s.ApplyToParams(params, "tenant1", "group1")

	assert.Equal(t, "ak", params.Get("Spas-AccessKey"))
	timestamp := params.Get("Timestamp")
	require.NotEmpty(t, timestamp)

	mac := hmac.New(sha1.New, []byte("sk"))
	mac.Write([]byte("tenant1+group1+" + timestamp))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, params.Get("Spas-Signature"))
}

func TestSignedSession_ResourceShapes(t *testing.T) {
	s := newSignedSession("ak", "sk")

	verify := func(tenant, group, wantPrefix string) {
		params := url.Values{}
		s.ApplyToParams(params, tenant, group)
		timestamp := params.Get("Timestamp")

		input := timestamp
		if wantPrefix != "" {
			input = wantPrefix + "+" + timestamp
		}
		mac := hmac.New(sha1.New, []byte("sk"))
		mac.Write([]byte(input))
		assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), params.Get("Spas-Signature"))
	}

	verify("t", "g", "t+g")
	verify("", "g", "g")
	verify("", "", "")
	verify("t", "", "")
}

func newLoginServer(t *testing.T, hits *atomic.Int32, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		require.Equal(t, "/nacos/v1/auth/users/login", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "nacos", r.PostForm.Get("username"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestUserPassSession_Login(t *testing.T) {
	server := newLoginServer(t, nil, `{"accessToken":"tok123","tokenTtl":18000,"globalAdmin":true}`, http.StatusOK)
	defer server.Close()

	s := newUserPassSession("nacos", "nacos",
		Config{Addresses: []string{server.URL}, ContextPath: "nacos"},
		server.Client(), nil)

	require.NoError(t, s.login(context.Background()))
	assert.Equal(t, "tok123", s.token.AccessToken())
	assert.True(t, s.token.IsValid())

	req, _ := http.NewRequest(http.MethodGet, "http://x/", nil)
	s.ApplyToRequest(req)
	assert.Equal(t, "tok123", req.Header.Get("accessToken"))

	params := url.Values{}
	s.ApplyToParams(params, "", "")
	assert.Equal(t, "tok123", params.Get("accessToken"))
}

func TestUserPassSession_LoginFallsThroughServers(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()
	good := newLoginServer(t, nil, `{"accessToken":"tok","tokenTtl":18000}`, http.StatusOK)
	defer good.Close()

	s := newUserPassSession("nacos", "nacos",
		Config{Addresses: []string{bad.URL, good.URL}, ContextPath: "nacos"},
		http.DefaultClient, nil)

	require.NoError(t, s.login(context.Background()))
	assert.Equal(t, "tok", s.token.AccessToken())
}

func TestUserPassSession_LoginRejectedEverywhere(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	s := newUserPassSession("nacos", "wrong",
		Config{Addresses: []string{bad.URL}, ContextPath: "nacos"},
		http.DefaultClient, nil)

	assert.Error(t, s.login(context.Background()))
	assert.False(t, s.token.IsValid())
}

func TestUserPassSession_EnsureAuthenticatedSingleFlight(t *testing.T) {
	var hits atomic.Int32
	server := newLoginServer(t, &hits, `{"accessToken":"tok","tokenTtl":18000}`, http.StatusOK)
	defer server.Close()

	s := newUserPassSession("nacos", "nacos",
		Config{Addresses: []string{server.URL}, ContextPath: "nacos"},
		server.Client(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.EnsureAuthenticated(context.Background()))
		}()
	}
	wg.Wait()

	// The double-check collapses concurrent logins to one.
	assert.Equal(t, int32(1), hits.Load())
}

func TestUserPassSession_InitializeStartsAndCloseStops(t *testing.T) {
	server := newLoginServer(t, nil, `{"accessToken":"tok","tokenTtl":18000}`, http.StatusOK)
	defer server.Close()

	s := newUserPassSession("nacos", "nacos",
		Config{Addresses: []string{server.URL}, ContextPath: "nacos"},
		server.Client(), nil)

	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.token.IsValid())

	s.Close()
	s.Close() // idempotent
}

func TestUserPassSession_RefreshInterval(t *testing.T) {
	s := newUserPassSession("u", "p", Config{}, http.DefaultClient, nil)

	s.token.Update("tok", 10) // 0.8 * 10s = 8s, below the floor
	assert.Equal(t, 30*time.Second, s.refreshInterval())

	s.token.Update("tok", 100) // 0.8 * 100s = 80s
	assert.Equal(t, 80*time.Second, s.refreshInterval())

	s.token.Update("tok", 18000) // clamped to the ceiling
	assert.Equal(t, 300*time.Second, s.refreshInterval())
}
