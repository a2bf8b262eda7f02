package config

import "os"

// Environment variable names for overrides. Secrets are usually supplied
// this way rather than written into the config file.
const (
	EnvConfig            = "DRIVEDROP_CONFIG"
	EnvLineChannelSecret = "DRIVEDROP_LINE_CHANNEL_SECRET"
	EnvLineChannelToken  = "DRIVEDROP_LINE_CHANNEL_TOKEN"
	EnvOAuthClientSecret = "DRIVEDROP_OAUTH_CLIENT_SECRET"
	EnvStateSecret       = "DRIVEDROP_STATE_SECRET"
	EnvStoreDSN          = "DRIVEDROP_STORE_DSN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath        string
	LineChannelSecret string
	LineChannelToken  string
	OAuthClientSecret string
	StateSecret       string
	StoreDSN          string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:        os.Getenv(EnvConfig),
		LineChannelSecret: os.Getenv(EnvLineChannelSecret),
		LineChannelToken:  os.Getenv(EnvLineChannelToken),
		OAuthClientSecret: os.Getenv(EnvOAuthClientSecret),
		StateSecret:       os.Getenv(EnvStateSecret),
		StoreDSN:          os.Getenv(EnvStoreDSN),
	}
}

// apply copies every non-empty override into cfg.
func (e EnvOverrides) apply(cfg *Config) {
	setIf(&cfg.Line.ChannelSecret, e.LineChannelSecret)
	setIf(&cfg.Line.ChannelToken, e.LineChannelToken)
	setIf(&cfg.OAuth.ClientSecret, e.OAuthClientSecret)
	setIf(&cfg.State.Secret, e.StateSecret)
	setIf(&cfg.Store.DSN, e.StoreDSN)
}

// CLIOverrides holds values from command-line flags. They win over every
// other layer.
type CLIOverrides struct {
	ConfigPath string
	Listen     string
}

func (c CLIOverrides) apply(cfg *Config) {
	setIf(&cfg.Server.Listen, c.Listen)
}

func setIf(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
