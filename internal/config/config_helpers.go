package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// FieldError reports an invalid configuration field.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Field, e.Msg)
}

// compileCUE loads and compiles a CUE file at the given path.
func compileCUE(path string) (cue.Value, error) {
	if filepath.Ext(path) != ".cue" {
		return cue.Value{}, errors.New("unsupported config format: expected .cue")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read config: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("invalid config: %v", err)
	}
	return v, nil
}

func requireStringField(v cue.Value, name string) error {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return fmt.Errorf("missing required field: %s", name)
	}
	if f.Kind() != cue.StringKind {
		return fmt.Errorf("invalid type for field: %s (expected string)", name)
	}
	return nil
}

// optionalString decodes path into dst when present. A present value of the
// wrong kind is an error.
func optionalString(v cue.Value, path string, dst *string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	if f.Kind() != cue.StringKind {
		return false, &FieldError{Field: path, Msg: "expected string"}
	}
	if err := f.Decode(dst); err != nil {
		return false, &FieldError{Field: path, Msg: err.Error()}
	}
	return true, nil
}

func optionalInt(v cue.Value, path string, dst *int64) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	if f.Kind() != cue.IntKind {
		return false, &FieldError{Field: path, Msg: "expected integer"}
	}
	if err := f.Decode(dst); err != nil {
		return false, &FieldError{Field: path, Msg: err.Error()}
	}
	return true, nil
}

func optionalStrings(v cue.Value, path string, dst *[]string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	if f.Kind() != cue.ListKind {
		return false, &FieldError{Field: path, Msg: "expected list of strings"}
	}
	if err := f.Decode(dst); err != nil {
		return false, &FieldError{Field: path, Msg: err.Error()}
	}
	return true, nil
}
