package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database settings %q %q", cfg.DatabaseDriver, cfg.DatabasePath)
	}
	if cfg.TokenTTL != 90*24*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.CookieName != "token" {
		t.Fatalf("unexpected cookie name %q", cfg.CookieName)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
	if cfg.AssetsPublicPath != "/assets" {
		t.Fatalf("unexpected assets path %q", cfg.AssetsPublicPath)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("MURMUR_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("MURMUR_DATABASE_DRIVER", "POSTGRES")
	t.Setenv("MURMUR_DATABASE_DSN", "postgres://murmur@localhost/murmur")
	t.Setenv("MURMUR_CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.SigningSecret)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Fatalf("expected normalized postgres driver, got %q", cfg.DatabaseDriver)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	testCases := map[string]map[string]interface{}{
		"missing secret":        {},
		"unknown driver":        {"auth.signing_secret": "s", "database.driver": "mongodb"},
		"postgres without dsn":  {"auth.signing_secret": "s", "database.driver": "postgres"},
		"sqlite without path":   {"auth.signing_secret": "s", "database.path": " "},
		"unknown log format":    {"auth.signing_secret": "s", "log.format": "xml"},
		"non positive ttl":      {"auth.signing_secret": "s", "auth.token_ttl_minutes": 0},
		"relative assets path":  {"auth.signing_secret": "s", "assets.public_path": "assets"},
		"empty cookie name":     {"auth.signing_secret": "s", "auth.cookie_name": ""},
		"empty assets location": {"auth.signing_secret": "s", "assets.directory": ""},
	}
	for name, overrides := range testCases {
		t.Run(name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range overrides {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
