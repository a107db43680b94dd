package nacosconfig

import (
	"errors"
	"fmt"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
)

// ErrUnauthorized is returned when the server rejects a request with 403.
var ErrUnauthorized = core.ErrUnauthorized

// ErrConfigNotFound is returned by Get when the configuration does not
// exist on the server (and no non-empty failover file overrides it). The
// snapshot tier is not consulted for a configuration the server reports
// as missing.
var ErrConfigNotFound = errors.New("config not found")

// RemoteError is a non-retryable, non-2xx outcome from the config server.
type RemoteError = core.RemoteError

// ConfigurationError reports invalid client options. It is fatal at
// construction; a client is never built from bad options.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid client options: %s", e.Reason)
}

// ValidationError reports invalid operation arguments, such as an empty
// dataId.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
