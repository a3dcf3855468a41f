// Package artifact defines the persisted form of a generated command.
package artifact

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
	"github.com/opencontainers/go-digest"
)

// Mode tags the namespace an artifact belongs to.
type Mode string

const (
	ModeMock       Mode = "mock"
	ModeProduction Mode = "production"
)

// ParseMode accepts the two namespace names.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMock:
		return ModeMock, nil
	case ModeProduction:
		return ModeProduction, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected mock or production)", s)
}

const maxNameLength = 76

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName checks that name is usable as a command name and cache key.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("command name must not be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("command name %q greater than maximum length (%d characters)", name, maxNameLength)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("command name %q must match %v", name, nameRe)
	}
	return nil
}

// Record is one generated artifact, keyed by (Name, Mode).
type Record struct {
	Name         string        `yaml:"name"`
	Mode         Mode          `yaml:"mode"`
	Intent       string        `yaml:"intent"`
	Explanation  string        `yaml:"explanation,omitempty"`
	Script       string        `yaml:"script"`
	Permissions  []string      `yaml:"permissions"`
	Revision     int           `yaml:"revision"`
	ContentHash  digest.Digest `yaml:"content_hash"`
	ApprovedHash digest.Digest `yaml:"approved_hash,omitempty"`
	LastStderr   string        `yaml:"last_stderr,omitempty"`
	CreatedAt    time.Time     `yaml:"created_at"`
	UpdatedAt    time.Time     `yaml:"updated_at"`
	UsageCount   int           `yaml:"usage_count"`
	LastUsed     time.Time     `yaml:"last_used,omitempty"`
}

// Content is the generated part of a record.
type Content struct {
	Script      string
	Permissions permission.Set
	Explanation string
}

// ContentHash digests script and permissions. Each component is length
// prefixed so distinct inputs never share an encoding.
func ContentHash(script string, permissions []string) digest.Digest {
	var b strings.Builder
	b.WriteString("script ")
	b.WriteString(strconv.Itoa(len(script)))
	b.WriteByte('\n')
	b.WriteString(script)
	b.WriteString("\npermissions ")
	b.WriteString(strconv.Itoa(len(permissions)))
	b.WriteByte('\n')
	for _, p := range permissions {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte('\n')
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return digest.FromString(b.String())
}

// New builds the first revision of a record.
func New(name string, mode Mode, intent string, c Content, now time.Time) Record {
	perms := c.Permissions.Strings()
	now = now.UTC()
	return Record{
		Name:        name,
		Mode:        mode,
		Intent:      intent,
		Explanation: c.Explanation,
		Script:      c.Script,
		Permissions: perms,
		Revision:    1,
		ContentHash: ContentHash(c.Script, perms),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Revise replaces the generated content, bumps the revision and drops the
// approval and the stderr of the previous revision. Name, mode, intent and
// usage history carry over.
func (r Record) Revise(c Content, now time.Time) Record {
	perms := c.Permissions.Strings()
	out := r
	out.Script = c.Script
	out.Permissions = perms
	out.Explanation = c.Explanation
	out.Revision = r.Revision + 1
	out.ContentHash = ContentHash(c.Script, perms)
	out.ApprovedHash = ""
	out.LastStderr = ""
	out.UpdatedAt = now.UTC()
	return out
}

// Approved reports whether the current content has been approved.
func (r Record) Approved() bool {
	return r.ApprovedHash != "" && r.ApprovedHash == r.ContentHash
}

// Grants parses the stored permissions.
func (r Record) Grants() (permission.Set, error) {
	return permission.ParseAll(r.Permissions)
}

// Validate checks the structural invariants of a stored record.
func (r Record) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	if strings.TrimSpace(r.Script) == "" {
		return fmt.Errorf("record %q has an empty script", r.Name)
	}
	if r.Revision < 1 {
		return fmt.Errorf("record %q has invalid revision %d", r.Name, r.Revision)
	}
	set, err := r.Grants()
	if err != nil {
		return fmt.Errorf("record %q: %w", r.Name, err)
	}
	if len(set) != len(r.Permissions) {
		return fmt.Errorf("record %q has duplicate permissions", r.Name)
	}
	if want := ContentHash(r.Script, r.Permissions); r.ContentHash != want {
		return fmt.Errorf("record %q content hash mismatch", r.Name)
	}
	if r.ApprovedHash != "" {
		if err := r.ApprovedHash.Validate(); err != nil {
			return fmt.Errorf("record %q approved hash: %w", r.Name, err)
		}
	}
	return nil
}
