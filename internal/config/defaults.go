package config

import "time"

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultListen           = ":8080"
	defaultEventTimeout     = "10m"
	defaultShutdownTimeout  = "30s"
	defaultLineAPIBaseURL   = "https://api.line.me"
	defaultLineDataBaseURL  = "https://api-data.line.me"
	defaultMaxContentSize   = "300MiB"
	defaultTenant           = "common"
	defaultTokenTTL         = "1h"
	defaultRefreshTimeout   = "15s"
	defaultStateTTL         = "10m"
	defaultStoreDriver      = "sqlite"
	defaultStoreFile        = "drivedrop.db"
	defaultMembershipWindow = "720h"
	defaultUploadTimeout    = "2m"
	defaultFanoutWorkers    = 4
	defaultFolder           = "Chat Files"
	defaultGraphBaseURL     = "https://graph.microsoft.com/v1.0"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultConnectTimeout   = "10s"
	defaultRequestTimeout   = "60s"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          defaultListen,
			EventTimeout:    defaultEventTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Line: LineConfig{
			APIBaseURL:     defaultLineAPIBaseURL,
			DataBaseURL:    defaultLineDataBaseURL,
			MaxContentSize: defaultMaxContentSize,
		},
		OAuth: OAuthConfig{
			Tenant:          defaultTenant,
			DefaultTokenTTL: defaultTokenTTL,
			RefreshTimeout:  defaultRefreshTimeout,
		},
		State: StateConfig{
			TTL: defaultStateTTL,
		},
		Store: StoreConfig{
			Driver: defaultStoreDriver,
			DSN:    defaultStorePath(),
		},
		Policy: PolicyConfig{
			MembershipWindow: defaultMembershipWindow,
			UploadTimeout:    defaultUploadTimeout,
			FanoutWorkers:    defaultFanoutWorkers,
		},
		Storage: StorageConfig{
			Folder:       defaultFolder,
			GraphBaseURL: defaultGraphBaseURL,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
	}
}

// Duration parses a validated duration field. Load has already rejected
// malformed values, so a parse failure here yields fallback.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

// Size parses a validated size field, yielding fallback on failure or zero.
func Size(value string, fallback int64) int64 {
	n, err := ParseSize(value)
	if err != nil || n <= 0 {
		return fallback
	}

	return n
}
