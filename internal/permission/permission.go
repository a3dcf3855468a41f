// Package permission implements the capability grammar attached to generated
// artifacts. A grant names one kind of host access and the target it applies to.
package permission

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind is a category of host access.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
	KindNet   Kind = "net"
	KindEnv   Kind = "env"
	KindRun   Kind = "run"
)

// Kinds lists every recognized kind in display order.
var Kinds = []Kind{KindRead, KindWrite, KindNet, KindEnv, KindRun}

// Any is the wildcard target.
const Any = "*"

var (
	ErrUnrecognized = errors.New("unrecognized permission")
	ErrMalformed    = errors.New("malformed permission")
)

var (
	envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	hostRe    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?(:[0-9]{1,5})?$`)
)

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrUnrecognized, s)
}

// Grant is one declared capability.
type Grant struct {
	Kind   Kind
	Target string
}

func (g Grant) String() string { return string(g.Kind) + ":" + g.Target }

// Parse reads a grant in the form kind:target. The flag form
// --allow-kind=target is accepted and normalized; without a value it means
// the wildcard target.
func Parse(s string) (Grant, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Grant{}, fmt.Errorf("%w: empty grant", ErrMalformed)
	}
	var kindText, target string
	if rest, ok := strings.CutPrefix(text, "--allow-"); ok {
		var hasValue bool
		kindText, target, hasValue = strings.Cut(rest, "=")
		if !hasValue {
			target = Any
		}
	} else {
		var hasTarget bool
		kindText, target, hasTarget = strings.Cut(text, ":")
		if !hasTarget {
			if _, err := ParseKind(kindText); err != nil {
				return Grant{}, err
			}
			return Grant{}, fmt.Errorf("%w: %q has no target", ErrMalformed, s)
		}
	}
	kind, err := ParseKind(kindText)
	if err != nil {
		return Grant{}, err
	}
	target, err = normalizeTarget(kind, strings.TrimSpace(target))
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	return Grant{Kind: kind, Target: target}, nil
}

func normalizeTarget(kind Kind, target string) (string, error) {
	if target == "" {
		return "", errors.New("empty target")
	}
	if target == Any {
		if kind == KindRun {
			return "", errors.New("run requires a program name")
		}
		return target, nil
	}
	switch kind {
	case KindRead, KindWrite:
		return filepath.Clean(target), nil
	case KindNet:
		host := strings.ToLower(target)
		if !hostRe.MatchString(host) {
			return "", errors.New("net target must be a host name")
		}
		return host, nil
	case KindEnv:
		if !envNameRe.MatchString(target) {
			return "", errors.New("env target must be a variable name")
		}
		return target, nil
	case KindRun:
		if strings.ContainsAny(target, `/\ `) {
			return "", errors.New("run target must be a bare program name")
		}
		return target, nil
	}
	return target, nil
}

// Set is an ordered, duplicate-free list of grants.
type Set []Grant

// ParseAll parses every item, dropping duplicates and keeping first-seen order.
func ParseAll(items []string) (Set, error) {
	out := make(Set, 0, len(items))
	seen := map[string]bool{}
	for _, it := range items {
		g, err := Parse(it)
		if err != nil {
			return nil, err
		}
		key := g.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	return out, nil
}

// Strings renders the set in canonical text form.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, g := range s {
		out = append(out, g.String())
	}
	return out
}

// Validate rejects grants whose kind is outside allow. A nil allow list
// places no restriction; an empty non-nil list permits no kind at all.
func (s Set) Validate(allow []Kind) error {
	if allow == nil {
		return nil
	}
	permitted := map[Kind]bool{}
	for _, k := range allow {
		permitted[k] = true
	}
	for _, g := range s {
		if !permitted[g.Kind] {
			return fmt.Errorf("%w: kind %q is not allowed by configuration", ErrUnrecognized, g.Kind)
		}
	}
	return nil
}

// Has reports whether any grant of kind is present.
func (s Set) Has(kind Kind) bool {
	for _, g := range s {
		if g.Kind == kind {
			return true
		}
	}
	return false
}

// Targets returns the targets granted for kind.
func (s Set) Targets(kind Kind) []string {
	var out []string
	for _, g := range s {
		if g.Kind == kind {
			out = append(out, g.Target)
		}
	}
	return out
}

// Allows reports whether target is covered by a grant of kind.
func (s Set) Allows(kind Kind, target string) bool {
	for _, g := range s {
		if g.Kind != kind {
			continue
		}
		if g.Target == Any {
			return true
		}
		switch kind {
		case KindRead, KindWrite:
			if pathWithin(g.Target, target) {
				return true
			}
		case KindNet:
			if hostMatches(g.Target, target) {
				return true
			}
		default:
			if g.Target == target {
				return true
			}
		}
	}
	return false
}

func pathWithin(root, target string) bool {
	r, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	t, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r, t)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// hostMatches compares hosts case-insensitively. A grant without a port
// covers every port of that host.
func hostMatches(grant, target string) bool {
	target = strings.ToLower(target)
	if strings.Contains(grant, ":") {
		return grant == target
	}
	host, _, found := strings.Cut(target, ":")
	if !found {
		host = target
	}
	return grant == host
}
