package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "MURMUR"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabasePath     = "murmur.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultCookieName       = "token"
	defaultTokenTTLMinutes  = 90 * 24 * 60
	defaultAllowedOrigins   = "http://localhost:3000"
	defaultAssetsDirectory  = "assets"
	defaultAssetsPublicPath = "/assets"
	defaultAssetsMaxBytes   = 10 << 20
	defaultTokenIssuer      = "murmur-auth"
	defaultTokenAudience    = "murmur-api"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	LogLevel              string
	LogFormat             string
	DatabaseDriver        string
	DatabasePath          string
	DatabaseDSN           string
	SigningSecret         string
	TokenIssuer           string
	TokenAudience         string
	TokenTTL              time.Duration
	CookieName            string
	CookieSecure          bool
	AllowedOrigins        []string
	AssetsDirectory       string
	AssetsPublicPath      string
	AssetsMaxBytes        int
	DefaultProfilePicture string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.cookie_secure", false)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("assets.directory", defaultAssetsDirectory)
	configViper.SetDefault("assets.public_path", defaultAssetsPublicPath)
	configViper.SetDefault("assets.max_bytes", defaultAssetsMaxBytes)
	configViper.SetDefault("assets.default_profile_picture", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		LogLevel:              configViper.GetString("log.level"),
		LogFormat:             strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          configViper.GetString("database.path"),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		SigningSecret:         configViper.GetString("auth.signing_secret"),
		TokenIssuer:           configViper.GetString("auth.issuer"),
		TokenAudience:         configViper.GetString("auth.audience"),
		TokenTTL:              time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		CookieName:            configViper.GetString("auth.cookie_name"),
		CookieSecure:          configViper.GetBool("auth.cookie_secure"),
		AllowedOrigins:        splitList(configViper.GetString("cors.allowed_origins")),
		AssetsDirectory:       configViper.GetString("assets.directory"),
		AssetsPublicPath:      configViper.GetString("assets.public_path"),
		AssetsMaxBytes:        configViper.GetInt("assets.max_bytes"),
		DefaultProfilePicture: configViper.GetString("assets.default_profile_picture"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if strings.TrimSpace(c.AssetsDirectory) == "" {
		return fmt.Errorf("assets.directory is required")
	}
	if !strings.HasPrefix(c.AssetsPublicPath, "/") {
		return fmt.Errorf("assets.public_path must start with /")
	}
	return nil
}

// splitList accepts comma separated values and drops empty entries.
func splitList(raw string) []string {
	var values []string
	for _, value := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
