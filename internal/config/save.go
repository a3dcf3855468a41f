package config

import (
	"fmt"
	"io"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"

	"github.com/flarebyte/ergo/internal/fsutil"
	"github.com/flarebyte/ergo/internal/permission"
)

type fileShape struct {
	ConfigVersion string            `json:"configVersion"`
	APIKey        string            `json:"apiKey,omitempty"`
	Backend       string            `json:"backend,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Model         string            `json:"model,omitempty"`
	BaseURL       string            `json:"baseURL,omitempty"`
	Timeouts      *timeoutsShape    `json:"timeouts,omitempty"`
	Permissions   *permissionsShape `json:"permissions,omitempty"`
}

type timeoutsShape struct {
	GenerateMs int64 `json:"generateMs,omitempty"`
	ExecuteMs  int64 `json:"executeMs,omitempty"`
}

type permissionsShape struct {
	Allow []string `json:"allow"`
}

// Render formats the file-backed fields of cfg as CUE. Values equal to the
// defaults are left out.
func Render(cfg Config) ([]byte, error) {
	def := Default()
	shape := fileShape{
		ConfigVersion: CurrentConfigVersion,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		BaseURL:       cfg.BaseURL,
	}
	if cfg.Backend != def.Backend {
		shape.Backend = cfg.Backend
	}
	if cfg.Provider != def.Provider {
		shape.Provider = cfg.Provider
	}
	if cfg.GenerateTimeout != def.GenerateTimeout || cfg.ExecuteTimeout != def.ExecuteTimeout {
		shape.Timeouts = &timeoutsShape{
			GenerateMs: cfg.GenerateTimeout.Milliseconds(),
			ExecuteMs:  cfg.ExecuteTimeout.Milliseconds(),
		}
	}
	if kindsString(cfg.Allow) != kindsString(def.Allow) {
		shape.Permissions = &permissionsShape{Allow: make([]string, 0, len(cfg.Allow))}
		for _, k := range cfg.Allow {
			shape.Permissions.Allow = append(shape.Permissions.Allow, string(k))
		}
	}
	v := cuecontext.New().Encode(shape)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("encode config: %v", err)
	}
	out, err := format.Node(v.Syntax(), format.Simplify())
	if err != nil {
		return nil, fmt.Errorf("format config: %v", err)
	}
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

// SaveAPIKey stores key in the file at path, keeping its other settings.
// Environment overrides are not written back.
func SaveAPIKey(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &FieldError{Field: "apiKey", Msg: "must not be empty"}
	}
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.APIKey = key
	data, err := Render(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// Describe prints the effective configuration with the key masked.
func Describe(w io.Writer, cfg Config) {
	source := cfg.Path
	if source == "" {
		source = "(defaults)"
	}
	model := cfg.Model
	if model == "" {
		model = "(provider default)"
	}
	fmt.Fprintf(w, "config:   %s\n", source)
	fmt.Fprintf(w, "mode:     %s\n", cfg.Mode)
	fmt.Fprintf(w, "backend:  %s\n", cfg.EffectiveBackend())
	fmt.Fprintf(w, "provider: %s\n", cfg.Provider)
	fmt.Fprintf(w, "model:    %s\n", model)
	fmt.Fprintf(w, "apiKey:   %s\n", MaskKey(cfg.APIKey))
	fmt.Fprintf(w, "timeouts: generate=%s execute=%s\n", cfg.GenerateTimeout, cfg.ExecuteTimeout)
	fmt.Fprintf(w, "allow:    %s\n", kindsString(cfg.Allow))
}

// MaskKey hides all but the last four characters of key.
func MaskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func kindsString(kinds []permission.Kind) string {
	if kinds != nil && len(kinds) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ", ")
}
