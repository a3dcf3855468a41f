// Package config loads the ergo configuration file and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/permission"
)

// FileName is the configuration file inside the state directory.
const FileName = "config.cue"

const (
	BackendRemote        = "remote"
	BackendTemplate      = "template"
	BackendDeterministic = "deterministic"

	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

const (
	DefaultGenerateTimeout = 60 * time.Second
	DefaultExecuteTimeout  = 300 * time.Second
)

// Config is the effective configuration of one invocation.
type Config struct {
	ConfigVersion   string
	APIKey          string
	Backend         string
	Provider        string
	Model           string
	BaseURL         string
	GenerateTimeout time.Duration
	ExecuteTimeout  time.Duration
	// Allow limits the permission kinds generators may request.
	Allow []permission.Kind
	Mode  artifact.Mode
	// Path is the file the values came from; empty when defaults were used.
	Path string
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ConfigVersion:   CurrentConfigVersion,
		Backend:         BackendRemote,
		Provider:        ProviderAnthropic,
		GenerateTimeout: DefaultGenerateTimeout,
		ExecuteTimeout:  DefaultExecuteTimeout,
		Allow:           append([]permission.Kind(nil), permission.Kinds...),
		Mode:            artifact.ModeProduction,
	}
}

// Load reads the CUE file at path. A missing file yields Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	v, err := compileCUE(path)
	if err != nil {
		return Config{}, err
	}
	if err := requireStringField(v, "configVersion"); err != nil {
		return Config{}, err
	}
	if _, err := optionalString(v, "configVersion", &cfg.ConfigVersion); err != nil {
		return Config{}, err
	}
	if !IsSupportedConfigVersion(cfg.ConfigVersion) {
		return Config{}, fmt.Errorf("unsupported configVersion: %q (supported: %s)", cfg.ConfigVersion, SupportedConfigVersionsCSV())
	}
	if err := parseGenerationSection(v, &cfg); err != nil {
		return Config{}, err
	}
	if err := parseTimeoutsSection(v, &cfg); err != nil {
		return Config{}, err
	}
	if err := parsePermissionsSection(v, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Path = path
	return cfg, nil
}

// EffectiveBackend is the generator backend for the current mode. Mock
// mode always uses the deterministic backend.
func (c Config) EffectiveBackend() string {
	if c.Mode == artifact.ModeMock {
		return BackendDeterministic
	}
	if c.Backend == "" {
		return BackendRemote
	}
	return c.Backend
}

// RequiresCredential reports whether generation needs an API key that is
// not configured.
func (c Config) RequiresCredential() bool {
	return c.EffectiveBackend() == BackendRemote && strings.TrimSpace(c.APIKey) == ""
}

// CredentialEnv names the environment variable holding the key for the
// configured provider.
func (c Config) CredentialEnv() string {
	if c.Provider == ProviderGemini {
		return "GEMINI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}
