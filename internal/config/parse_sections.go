package config

import (
	"errors"
	"strconv"
	"time"

	"cuelang.org/go/cue"

	"github.com/flarebyte/ergo/internal/permission"
)

// parseGenerationSection reads the top-level generator settings.
func parseGenerationSection(v cue.Value, cfg *Config) error {
	if _, err := optionalString(v, "apiKey", &cfg.APIKey); err != nil {
		return err
	}
	if ok, err := optionalString(v, "backend", &cfg.Backend); err != nil {
		return err
	} else if ok {
		if err := checkBackend("backend", cfg.Backend); err != nil {
			return err
		}
	}
	if ok, err := optionalString(v, "provider", &cfg.Provider); err != nil {
		return err
	} else if ok {
		if err := checkProvider("provider", cfg.Provider); err != nil {
			return err
		}
	}
	if _, err := optionalString(v, "model", &cfg.Model); err != nil {
		return err
	}
	if _, err := optionalString(v, "baseURL", &cfg.BaseURL); err != nil {
		return err
	}
	return nil
}

func parseTimeoutsSection(v cue.Value, cfg *Config) error {
	tv := v.LookupPath(cue.ParsePath("timeouts"))
	if !tv.Exists() {
		return nil
	}
	var ms int64
	if ok, err := optionalInt(tv, "generateMs", &ms); err != nil {
		return prefixed("timeouts", err)
	} else if ok {
		if ms <= 0 {
			return &FieldError{Field: "timeouts.generateMs", Msg: "must be positive"}
		}
		cfg.GenerateTimeout = time.Duration(ms) * time.Millisecond
	}
	if ok, err := optionalInt(tv, "executeMs", &ms); err != nil {
		return prefixed("timeouts", err)
	} else if ok {
		if ms <= 0 {
			return &FieldError{Field: "timeouts.executeMs", Msg: "must be positive"}
		}
		cfg.ExecuteTimeout = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func parsePermissionsSection(v cue.Value, cfg *Config) error {
	pv := v.LookupPath(cue.ParsePath("permissions"))
	if !pv.Exists() {
		return nil
	}
	var names []string
	ok, err := optionalStrings(pv, "allow", &names)
	if err != nil {
		return prefixed("permissions", err)
	}
	if !ok {
		return nil
	}
	// An explicit empty list stays non-nil and forbids every kind.
	kinds := make([]permission.Kind, 0, len(names))
	for _, n := range names {
		k, err := permission.ParseKind(n)
		if err != nil {
			return &FieldError{Field: "permissions.allow", Msg: err.Error()}
		}
		kinds = append(kinds, k)
	}
	cfg.Allow = kinds
	return nil
}

func checkBackend(field, s string) error {
	switch s {
	case BackendRemote, BackendTemplate:
		return nil
	}
	return &FieldError{Field: field, Msg: `expected "remote" or "template", got ` + strconv.Quote(s)}
}

func checkProvider(field, s string) error {
	switch s {
	case ProviderAnthropic, ProviderGemini:
		return nil
	}
	return &FieldError{Field: field, Msg: `expected "anthropic" or "gemini", got ` + strconv.Quote(s)}
}

func prefixed(section string, err error) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		return &FieldError{Field: section + "." + fe.Field, Msg: fe.Msg}
	}
	return err
}
