package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minFanoutWorkers    = 1
	maxFanoutWorkers    = 64
	minMembershipWindow = time.Hour
	minUploadTimeout    = 5 * time.Second
	minEventTimeout     = 10 * time.Second
	minShutdownTimeout  = time.Second
	minTokenTTL         = time.Minute
	minRefreshTimeout   = time.Second
	minStateTTL         = time.Minute
	maxStateTTL         = time.Hour
	minConnectTimeout   = time.Second
	minRequestTimeout   = 5 * time.Second
	minStateSecretLen   = 32
)

// Validate checks all configuration values and returns every error found,
// joined, so a broken file can be fixed in one pass. Missing secrets are
// not errors here; ValidateServe checks them.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLine(&cfg.Line)...)
	errs = append(errs, validateOAuth(&cfg.OAuth)...)
	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateServe checks the settings only the webhook server needs:
// channel credentials, the OAuth registration, and the state secret.
func ValidateServe(cfg *Config) error {
	var errs []error

	if cfg.Line.ChannelSecret == "" {
		errs = append(errs, fmt.Errorf("line.channel_secret: required (or set %s)", EnvLineChannelSecret))
	}

	if cfg.Line.ChannelToken == "" {
		errs = append(errs, fmt.Errorf("line.channel_token: required (or set %s)", EnvLineChannelToken))
	}

	errs = append(errs, validateAuthorization(cfg)...)

	return errors.Join(errs...)
}

// ValidateAuthorization checks the settings needed to build sign-in links.
func ValidateAuthorization(cfg *Config) error {
	return errors.Join(validateAuthorization(cfg)...)
}

func validateAuthorization(cfg *Config) []error {
	var errs []error

	if cfg.OAuth.ClientID == "" {
		errs = append(errs, errors.New("oauth.client_id: required"))
	}

	if cfg.RedirectURL() == "" {
		errs = append(errs, errors.New("oauth.redirect_url: required when server.public_url is not set"))
	}

	if len(cfg.State.Secret) < minStateSecretLen {
		errs = append(errs, fmt.Errorf("state.secret: must be at least %d bytes (or set %s)",
			minStateSecretLen, EnvStateSecret))
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Listen == "" {
		errs = append(errs, errors.New("listen: must not be empty"))
	}

	errs = append(errs, validateAbsoluteURL("public_url", s.PublicURL, true)...)
	errs = append(errs, validateDurationMin("event_timeout", s.EventTimeout, minEventTimeout)...)
	errs = append(errs, validateDurationMin("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateLine(l *LineConfig) []error {
	var errs []error

	errs = append(errs, validateAbsoluteURL("api_base_url", l.APIBaseURL, false)...)
	errs = append(errs, validateAbsoluteURL("data_base_url", l.DataBaseURL, false)...)

	n, err := ParseSize(l.MaxContentSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("max_content_size: %w", err))
	} else if n <= 0 {
		errs = append(errs, fmt.Errorf("max_content_size: must be positive, got %q", l.MaxContentSize))
	}

	return errs
}

func validateOAuth(o *OAuthConfig) []error {
	var errs []error

	if o.Tenant == "" {
		errs = append(errs, errors.New("tenant: must not be empty"))
	}

	errs = append(errs, validateAbsoluteURL("redirect_url", o.RedirectURL, true)...)
	errs = append(errs, validateDurationMin("default_token_ttl", o.DefaultTokenTTL, minTokenTTL)...)
	errs = append(errs, validateDurationMin("refresh_timeout", o.RefreshTimeout, minRefreshTimeout)...)

	return errs
}

func validateState(s *StateConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("ttl", s.TTL, minStateTTL)...)

	if d, err := time.ParseDuration(s.TTL); err == nil && d > maxStateTTL {
		errs = append(errs, fmt.Errorf("ttl: must be <= %s, got %s", maxStateTTL, d))
	}

	if s.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("redis_db: must be >= 0, got %d", s.RedisDB))
	}

	return errs
}

var validStoreDrivers = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

func validateStore(s *StoreConfig) []error {
	if !validStoreDrivers[s.Driver] {
		return []error{fmt.Errorf("driver: must be one of memory, sqlite, postgres; got %q", s.Driver)}
	}

	if s.Driver != "memory" && s.DSN == "" {
		return []error{fmt.Errorf("dsn: required for driver %q", s.Driver)}
	}

	return nil
}

func validatePolicy(p *PolicyConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("membership_window", p.MembershipWindow, minMembershipWindow)...)
	errs = append(errs, validateDurationMin("upload_timeout", p.UploadTimeout, minUploadTimeout)...)

	if p.FanoutWorkers < minFanoutWorkers || p.FanoutWorkers > maxFanoutWorkers {
		errs = append(errs, fmt.Errorf("fanout_workers: must be between %d and %d, got %d",
			minFanoutWorkers, maxFanoutWorkers, p.FanoutWorkers))
	}

	return errs
}

func validateStorage(s *StorageConfig) []error {
	return validateAbsoluteURL("graph_base_url", s.GraphBaseURL, false)
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateAbsoluteURL(field, value string, optional bool) []error {
	if value == "" {
		if optional {
			return nil
		}

		return []error{fmt.Errorf("%s: must not be empty", field)}
	}

	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("request_timeout", n.RequestTimeout, minRequestTimeout)...)

	return errs
}
