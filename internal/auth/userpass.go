package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	loginPath    = "v1/auth/users/login"
	loginTimeout = 5 * time.Second

	minRefreshInterval = 30 * time.Second
	maxRefreshInterval = 300 * time.Second
)

// loginResponse is the JSON body the login endpoint returns on 200. Extra
// fields such as globalAdmin are ignored.
type loginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenTTL    int64  `json:"tokenTtl"`
}

// userPassSession logs in with a username and password, keeps the bearer
// token fresh in the background, and re-logs-in on demand when a request
// finds the token stale.
type userPassSession struct {
	username string
	password string
	cfg      Config
	doer     Doer
	logger   *slog.Logger

	token TokenInfo

	// loginMu serializes logins so concurrent EnsureAuthenticated calls
	// collapse into one network round trip.
	loginMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newUserPassSession(username, password string, cfg Config, doer Doer, logger *slog.Logger) *userPassSession {
	if logger == nil {
		logger = slog.Default()
	}
	if doer == nil {
		doer = &http.Client{Timeout: loginTimeout}
	}
	return &userPassSession{
		username: username,
		password: password,
		cfg:      cfg,
		doer:     doer,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (s *userPassSession) Enabled() bool { return true }

// Initialize performs the first login and starts the refresh task. A failed
// login is logged, not returned: the servers may still be coming up. Each
// later request retries the login through EnsureAuthenticated and, while
// that keeps failing, returns the login error without being sent.
func (s *userPassSession) Initialize(ctx context.Context) error {
	if err := s.login(ctx); err != nil {
		s.logger.Warn("initial login failed on every server, requests will be unauthenticated until retry",
			slog.String("error", err.Error()))
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.refreshLoop(refreshCtx)
	return nil
}

// EnsureAuthenticated re-logs-in when the token is stale, double-checked
// under the login lock.
func (s *userPassSession) EnsureAuthenticated(ctx context.Context) error {
	if s.token.IsValid() {
		return nil
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if s.token.IsValid() {
		return nil
	}
	return s.login(ctx)
}

// ApplyToRequest puts the bearer token in the accessToken header.
func (s *userPassSession) ApplyToRequest(req *http.Request) {
	if token := s.token.AccessToken(); token != "" {
		req.Header.Set("accessToken", token)
	}
}

// ApplyToParams puts the bearer token in the accessToken parameter.
func (s *userPassSession) ApplyToParams(params url.Values, _, _ string) {
	if token := s.token.AccessToken(); token != "" {
		params.Set("accessToken", token)
	}
}

// Close stops the background refresh task.
func (s *userPassSession) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// refreshLoop keeps the token fresh. The period follows the server-reported
// TTL: 80% of it, clamped between 30s and 5m.
func (s *userPassSession) refreshLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.refreshInterval()):
		}

		if s.token.IsValid() {
			continue
		}
		s.loginMu.Lock()
		if !s.token.IsValid() {
			if err := s.login(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("token refresh failed", slog.String("error", err.Error()))
			}
		}
		s.loginMu.Unlock()
	}
}

func (s *userPassSession) refreshInterval() time.Duration {
	interval := time.Duration(float64(s.token.TTL()) * 0.8)
	if interval < minRefreshInterval {
		return minRefreshInterval
	}
	if interval > maxRefreshInterval {
		return maxRefreshInterval
	}
	return interval
}

// login attempts the login POST against each server in order and stores the
// first token obtained. Each attempt gets a hard 5 second deadline.
func (s *userPassSession) login(ctx context.Context) error {
	var lastErr error
	for _, server := range s.cfg.Addresses {
		token, ttl, err := s.loginTo(ctx, server)
		if err != nil {
			lastErr = err
			s.logger.Debug("login attempt failed",
				slog.String("server", server),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		s.token.Update(token, ttl)
		s.logger.Info("logged in to config server",
			slog.String("server", server),
			slog.Int64("token_ttl_seconds", ttl))
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no servers configured")
	}
	return fmt.Errorf("login rejected by every server: %w", lastErr)
}

func (s *userPassSession) loginTo(ctx context.Context, server string) (string, int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("username", s.username)
	form.Set("password", s.password)

	endpoint := fmt.Sprintf("%s/%s/%s", server, s.cfg.ContextPath, loginPath)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.doer.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("login returned status %d", resp.StatusCode)
	}

	var parsed loginResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("parse login response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("login response carries no accessToken")
	}
	return parsed.AccessToken, parsed.TokenTTL, nil
}
