package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/permission"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	return p
}

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_MissingFileIsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("unexpected defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_AllFields(t *testing.T) {
	p := writeConfig(t, `configVersion: "v1"
apiKey: "sk-test-1234"
backend: "template"
provider: "gemini"
model: "gemini-2.0-pro"
baseURL: "http://localhost:9999"
timeouts: {
	generateMs: 1500
	executeMs:  2000
}
permissions: allow: ["read", "env"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Config{
		ConfigVersion:   "v1",
		APIKey:          "sk-test-1234",
		Backend:         BackendTemplate,
		Provider:        ProviderGemini,
		Model:           "gemini-2.0-pro",
		BaseURL:         "http://localhost:9999",
		GenerateTimeout: 1500 * time.Millisecond,
		ExecuteTimeout:  2 * time.Second,
		Allow:           []permission.Kind{permission.KindRead, permission.KindEnv},
		Mode:            artifact.ModeProduction,
		Path:            p,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoad_FieldErrors(t *testing.T) {
	cases := map[string]string{
		`configVersion: "v1", backend: "magic"`:                 "backend",
		`configVersion: "v1", provider: 3`:                      "provider",
		`configVersion: "v1", timeouts: generateMs: -1`:         "timeouts.generateMs",
		`configVersion: "v1", timeouts: executeMs: "soon"`:      "timeouts.executeMs",
		`configVersion: "v1", permissions: allow: ["teleport"]`: "permissions.allow",
		`configVersion: "v1", permissions: allow: "read"`:       "permissions.allow",
	}
	for content, field := range cases {
		_, err := Load(writeConfig(t, content+"\n"))
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Field != field {
			t.Fatalf("%s: expected FieldError on %s, got %v", content, field, err)
		}
	}
}

func TestLoad_EmptyAllowListForbidsEveryKind(t *testing.T) {
	p := writeConfig(t, `configVersion: "v1"
permissions: allow: []
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Allow == nil || len(cfg.Allow) != 0 {
		t.Fatalf("expected an empty allow list, got %#v", cfg.Allow)
	}
	set, err := permission.ParseAll([]string{"net:evil.example", "run:sh"})
	if err != nil {
		t.Fatalf("parse grants: %v", err)
	}
	if err := set.Validate(cfg.Allow); !errors.Is(err, permission.ErrUnrecognized) {
		t.Fatalf("expected every kind to be rejected, got %v", err)
	}

	if err := SaveAPIKey(p, "k-1234"); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := Load(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Allow == nil || len(again.Allow) != 0 {
		t.Fatalf("empty allow list lost on save: %#v", again.Allow)
	}
}

func TestLoad_InvalidCUE(t *testing.T) {
	_, err := Load(writeConfig(t, "configVersion: \n"))
	if err == nil || !strings.HasPrefix(err.Error(), "invalid config:") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	base := Default()
	base.APIKey = "from-file"
	cfg, err := FromEnv(base, envMap(map[string]string{
		"ERGO_MODE":         "mock",
		"ERGO_BACKEND":      "template",
		"ANTHROPIC_API_KEY": "from-env",
	}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Mode != artifact.ModeMock || cfg.Backend != BackendTemplate || cfg.APIKey != "from-env" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	cfg, err = FromEnv(Default(), envMap(map[string]string{"ERGO_USE_MOCK": "1"}))
	if err != nil || cfg.Mode != artifact.ModeMock {
		t.Fatalf("ERGO_USE_MOCK should select mock: %+v %v", cfg, err)
	}

	cfg, err = FromEnv(Default(), envMap(map[string]string{
		"ERGO_PROVIDER":     "gemini",
		"ANTHROPIC_API_KEY": "wrong",
		"GEMINI_API_KEY":    "right",
	}))
	if err != nil || cfg.APIKey != "right" {
		t.Fatalf("provider key should be read from its own variable: %+v %v", cfg, err)
	}

	if _, err := FromEnv(Default(), envMap(map[string]string{"ERGO_MODE": "staging"})); err == nil {
		t.Fatalf("expected invalid mode to fail")
	}
}

func TestRequiresCredential(t *testing.T) {
	cfg := Default()
	if !cfg.RequiresCredential() {
		t.Fatalf("production remote without key needs a credential")
	}
	cfg.APIKey = "k"
	if cfg.RequiresCredential() {
		t.Fatalf("key present")
	}
	cfg = Default()
	cfg.Mode = artifact.ModeMock
	if cfg.RequiresCredential() || cfg.EffectiveBackend() != BackendDeterministic {
		t.Fatalf("mock mode never needs a credential")
	}
	cfg = Default()
	cfg.Backend = BackendTemplate
	if cfg.RequiresCredential() {
		t.Fatalf("template backend never needs a credential")
	}
}

func TestSaveAPIKey_KeepsOtherSettings(t *testing.T) {
	p := writeConfig(t, `configVersion: "v1"
provider: "gemini"
timeouts: generateMs: 5000
`)
	if err := SaveAPIKey(p, "  new-key-9876 "); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.APIKey != "new-key-9876" || cfg.Provider != ProviderGemini || cfg.GenerateTimeout != 5*time.Second {
		t.Fatalf("unexpected config after save: %+v", cfg)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config with a key must be private, got %v", info.Mode().Perm())
	}
}

func TestSaveAPIKey_CreatesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state", FileName)
	if err := SaveAPIKey(p, "abc"); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.APIKey != "abc" || cfg.Backend != BackendRemote {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := SaveAPIKey(p, " "); err == nil {
		t.Fatalf("empty key must be rejected")
	}
}

func TestDescribe_MasksKey(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "sk-secret-abcd"
	var buf bytes.Buffer
	Describe(&buf, cfg)
	out := buf.String()
	if strings.Contains(out, "secret") || !strings.Contains(out, "********abcd") {
		t.Fatalf("key not masked:\n%s", out)
	}
	if !strings.Contains(out, "config:   (defaults)") || !strings.Contains(out, "allow:    read, write, net, env, run") {
		t.Fatalf("unexpected description:\n%s", out)
	}
}
