// Package config loads drivedrop's TOML configuration. Values come from four
// layers applied in order: built-in defaults, the config file, environment
// variables, and command-line flags.
package config

import "strings"

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Line    LineConfig    `toml:"line"`
	OAuth   OAuthConfig   `toml:"oauth"`
	State   StateConfig   `toml:"state"`
	Store   StoreConfig   `toml:"store"`
	Policy  PolicyConfig  `toml:"policy"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen string `toml:"listen"`
	// PublicURL is the externally reachable base URL. The OAuth redirect
	// defaults to PublicURL + "/oauth/callback".
	PublicURL       string `toml:"public_url"`
	EventTimeout    string `toml:"event_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LineConfig holds the messaging channel credentials and endpoints.
type LineConfig struct {
	ChannelSecret  string `toml:"channel_secret"`
	ChannelToken   string `toml:"channel_token"`
	APIBaseURL     string `toml:"api_base_url"`
	DataBaseURL    string `toml:"data_base_url"`
	MaxContentSize string `toml:"max_content_size"`
}

// OAuthConfig describes the identity provider registration.
type OAuthConfig struct {
	ClientID        string   `toml:"client_id"`
	ClientSecret    string   `toml:"client_secret"`
	Tenant          string   `toml:"tenant"`
	RedirectURL     string   `toml:"redirect_url"`
	Scopes          []string `toml:"scopes"`
	DefaultTokenTTL string   `toml:"default_token_ttl"`
	RefreshTimeout  string   `toml:"refresh_timeout"`
}

// StateConfig controls authorization correlation state.
type StateConfig struct {
	Secret        string `toml:"secret"`
	TTL           string `toml:"ttl"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// StoreConfig selects the credential and membership storage backend.
type StoreConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// PolicyConfig holds the fan-out policy. This section is reloaded while
// serving.
type PolicyConfig struct {
	MembershipWindow string `toml:"membership_window"`
	UploadTimeout    string `toml:"upload_timeout"`
	FanoutWorkers    int    `toml:"fanout_workers"`
}

// StorageConfig controls where files land in each user's drive.
type StorageConfig struct {
	Folder       string `toml:"folder"`
	GraphBaseURL string `toml:"graph_base_url"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls outbound HTTP behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CallbackPath is where the identity provider redirects after consent.
const CallbackPath = "/oauth/callback"

// RedirectURL returns the configured redirect URL, or one derived from
// server.public_url.
func (c *Config) RedirectURL() string {
	if c.OAuth.RedirectURL != "" {
		return c.OAuth.RedirectURL
	}

	if c.Server.PublicURL == "" {
		return ""
	}

	return strings.TrimRight(c.Server.PublicURL, "/") + CallbackPath
}
