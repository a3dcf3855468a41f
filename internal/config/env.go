package config

import (
	"fmt"
	"strings"

	"github.com/flarebyte/ergo/internal/artifact"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// FromEnv applies environment overrides on top of cfg. The API key from the
// provider's variable wins over the file.
func FromEnv(cfg Config, lookup LookupFunc) (Config, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	if v := get("ERGO_MODE"); v != "" {
		m, err := artifact.ParseMode(v)
		if err != nil {
			return Config{}, fmt.Errorf("ERGO_MODE: %w", err)
		}
		cfg.Mode = m
	}
	if truthy(get("ERGO_USE_MOCK")) {
		cfg.Mode = artifact.ModeMock
	}
	if v := get("ERGO_BACKEND"); v != "" {
		if err := checkBackend("ERGO_BACKEND", v); err != nil {
			return Config{}, err
		}
		cfg.Backend = v
	}
	if v := get("ERGO_PROVIDER"); v != "" {
		if err := checkProvider("ERGO_PROVIDER", v); err != nil {
			return Config{}, err
		}
		cfg.Provider = v
	}
	if v := get(cfg.CredentialEnv()); v != "" {
		cfg.APIKey = v
	}
	return cfg, nil
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
