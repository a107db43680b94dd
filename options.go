package nacosconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/vitaliisemenov/nacos-config-go/internal/storage"
)

// Options configures a Client. Zero values take the documented defaults;
// only ServerAddresses is required.
type Options struct {
	// ServerAddresses lists the config server base URLs. Addresses
	// without a scheme default to http://.
	ServerAddresses []string `mapstructure:"server_addresses" validate:"required,min=1"`

	// Namespace is the tenant applied to every request. Empty means the
	// service's public tenant.
	Namespace string `mapstructure:"namespace"`

	// ContextPath is the URL segment between host and API.
	ContextPath string `mapstructure:"context_path"`

	// DefaultTimeout bounds each CRUD call, retries included.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// LongPollingTimeout is the probe budget the server honors.
	LongPollingTimeout time.Duration `mapstructure:"long_polling_timeout"`

	// ListenInterval is the prober's pause while nothing is subscribed.
	ListenInterval time.Duration `mapstructure:"listen_interval"`

	// MaxRetry and RetryDelay shape the transport retry policy:
	// RetryDelay, then doubling, for up to MaxRetry retries.
	MaxRetry   int           `mapstructure:"max_retry" validate:"min=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// EnableSnapshot turns local failover/snapshot persistence on.
	EnableSnapshot *bool `mapstructure:"enable_snapshot"`

	// SnapshotPath is the root directory for failover and snapshot files.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// Username and Password enable credential login with a background
	// token refresh. They take precedence over AccessKey/SecretKey.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// AccessKey and SecretKey enable stateless request signing.
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// ListenerTimeout bounds one subscriber callback during fan-out.
	ListenerTimeout time.Duration `mapstructure:"listener_timeout"`

	// DisableMetrics suppresses Prometheus metric registration.
	DisableMetrics bool `mapstructure:"disable_metrics"`

	// Logger receives the client's structured logs. Defaults to
	// slog.Default().
	Logger *slog.Logger `mapstructure:"-"`
}

const (
	defaultContextPath        = "nacos"
	defaultTimeout            = 15 * time.Second
	defaultLongPollingTimeout = 30 * time.Second
	defaultListenInterval     = 1 * time.Second
	defaultMaxRetry           = 3
	defaultRetryDelay         = 2 * time.Second
)

// withDefaults returns a copy of o with every unset field defaulted.
func (o Options) withDefaults() Options {
	if o.ContextPath == "" {
		o.ContextPath = defaultContextPath
	}
	o.ContextPath = strings.Trim(o.ContextPath, "/")
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = defaultTimeout
	}
	if o.LongPollingTimeout <= 0 {
		o.LongPollingTimeout = defaultLongPollingTimeout
	}
	if o.ListenInterval <= 0 {
		o.ListenInterval = defaultListenInterval
	}
	if o.MaxRetry == 0 {
		o.MaxRetry = defaultMaxRetry
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.EnableSnapshot == nil {
		enabled := true
		o.EnableSnapshot = &enabled
	}
	if o.SnapshotPath == "" {
		o.SnapshotPath = storage.DefaultRoot()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Validate checks the options. It is called by New; callers only need it
// when they want to fail earlier.
func (o Options) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	for _, addr := range o.ServerAddresses {
		if strings.TrimSpace(addr) == "" {
			return &ConfigurationError{Reason: "server address must not be blank"}
		}
	}
	if o.Username == "" && o.Password != "" {
		return &ConfigurationError{Reason: "password set without username"}
	}
	if (o.AccessKey == "") != (o.SecretKey == "") {
		return &ConfigurationError{Reason: "accessKey and secretKey must be set together"}
	}
	return nil
}

// LoadOptions reads options from a YAML file and the environment. File
// keys use snake_case (server_addresses, default_timeout, ...); the
// matching environment variables are NACOS_SERVER_ADDRESSES and so on. A
// missing file is not an error: the environment alone may configure the
// client. Validation happens in New, so callers may overlay further
// settings first.
func LoadOptions(configPath string) (Options, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("nacos")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if !notFound && !errors.Is(err, os.ErrNotExist) {
				return Options{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return opts, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can see them.
	v.SetDefault("server_addresses", []string{})
	v.SetDefault("namespace", "")
	v.SetDefault("snapshot_path", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("access_key", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("context_path", defaultContextPath)
	v.SetDefault("default_timeout", "15s")
	v.SetDefault("long_polling_timeout", "30s")
	v.SetDefault("listen_interval", "1s")
	v.SetDefault("max_retry", defaultMaxRetry)
	v.SetDefault("retry_delay", "2s")
	v.SetDefault("enable_snapshot", true)
	v.SetDefault("disable_metrics", false)
	v.SetDefault("listener_timeout", "30s")
}
