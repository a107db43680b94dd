// Package auth implements the authentication session variants the config
// client can run with: none, username/password (stateful bearer token with
// background refresh), and access-key/secret-key request signing.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
)

// Session is the capability set every variant implements. Apply methods are
// safe for concurrent use; EnsureAuthenticated may perform a network login.
type Session interface {
	// Enabled reports whether this session contributes credentials.
	Enabled() bool

	// Initialize performs the initial login (when the variant needs one)
	// and starts background token maintenance.
	Initialize(ctx context.Context) error

	// EnsureAuthenticated refreshes credentials when they are stale.
	// Concurrent callers collapse into a single login.
	EnsureAuthenticated(ctx context.Context) error

	// ApplyToRequest contributes credential headers to an HTTP request.
	ApplyToRequest(req *http.Request)

	// ApplyToParams contributes credential parameters. tenant and group
	// scope the signature for the signed variant; the token variant adds
	// the accessToken parameter.
	ApplyToParams(params url.Values, tenant, group string)

	// Close stops background maintenance. Safe to call more than once.
	Close()
}

// Credentials carries the option fields the session dispatch inspects.
type Credentials struct {
	Username  string
	Password  string
	AccessKey string
	SecretKey string
}

// Config is everything a session needs to reach the login endpoint.
type Config struct {
	Addresses   []string
	ContextPath string
}

// NewSession picks the variant for the supplied credentials. Username and
// password win over an access-key pair when both are configured.
func NewSession(creds Credentials, cfg Config, doer Doer, logger *slog.Logger) Session {
	switch {
	case creds.Username != "":
		return newUserPassSession(creds.Username, creds.Password, cfg, doer, logger)
	case creds.AccessKey != "" && creds.SecretKey != "":
		return newSignedSession(creds.AccessKey, creds.SecretKey)
	default:
		return noneSession{}
	}
}

// Doer sends one HTTP request. *http.Client satisfies it; tests substitute
// their own.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}
