package artifact

import (
	"strings"
	"testing"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
)

func mustSet(t *testing.T, items ...string) permission.Set {
	t.Helper()
	s, err := permission.ParseAll(items)
	if err != nil {
		t.Fatalf("parse permissions: %v", err)
	}
	return s
}

func TestContentHash_Stable(t *testing.T) {
	a := ContentHash("print('hi')", []string{"run:git"})
	b := ContentHash("print('hi')", []string{"run:git"})
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("invalid digest %q: %v", a, err)
	}
	if !strings.HasPrefix(a.String(), "sha256:") {
		t.Fatalf("expected sha256 digest, got %s", a)
	}
}

func TestContentHash_SensitiveToEveryComponent(t *testing.T) {
	base := ContentHash("print(1)", []string{"read:.", "run:git"})
	variants := map[string]string{
		"script":     ContentHash("print(2)", []string{"read:.", "run:git"}).String(),
		"order":      ContentHash("print(1)", []string{"run:git", "read:."}).String(),
		"dropped":    ContentHash("print(1)", []string{"read:."}).String(),
		"boundaries": ContentHash("print(1)\npermissions 1\n", []string{"run:git"}).String(),
	}
	for name, h := range variants {
		if h == base.String() {
			t.Fatalf("%s change did not change the hash", name)
		}
	}
}

func TestNewAndRevise(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New("password", ModeMock, "password", Content{Script: "print('abcde')"}, t0)
	if r.Revision != 1 || r.Approved() {
		t.Fatalf("unexpected fresh record: %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("fresh record invalid: %v", err)
	}
	r.ApprovedHash = r.ContentHash
	r.LastStderr = "too short"
	r.UsageCount = 3
	if !r.Approved() {
		t.Fatalf("expected approval to hold")
	}

	t1 := t0.Add(time.Hour)
	next := r.Revise(Content{Script: "print('abcdefghijklmnopqrstuvwx')", Permissions: mustSet(t, "env:HOME")}, t1)
	if next.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", next.Revision)
	}
	if next.ApprovedHash != "" || next.LastStderr != "" {
		t.Fatalf("revise must clear approval and stderr: %+v", next)
	}
	if next.Name != r.Name || next.Intent != r.Intent || next.Mode != r.Mode {
		t.Fatalf("identity changed: %+v", next)
	}
	if next.UsageCount != 3 || !next.CreatedAt.Equal(t0) || !next.UpdatedAt.Equal(t1) {
		t.Fatalf("history not carried over: %+v", next)
	}
	if next.ContentHash == r.ContentHash {
		t.Fatalf("expected new content hash")
	}
	if err := next.Validate(); err != nil {
		t.Fatalf("revised record invalid: %v", err)
	}
}

func TestRevise_SameContentStillClearsApproval(t *testing.T) {
	r := New("hello", ModeMock, "hello", Content{Script: "print('x')"}, time.Now())
	r.ApprovedHash = r.ContentHash
	next := r.Revise(Content{Script: "print('x')"}, time.Now())
	if next.ContentHash != r.ContentHash {
		t.Fatalf("expected equal content hash")
	}
	if next.Approved() {
		t.Fatalf("approval must not survive a revision")
	}
}

func TestValidate_Rejects(t *testing.T) {
	good := New("ok", ModeProduction, "ok", Content{Script: "print(1)"}, time.Now())
	cases := map[string]func(r *Record){
		"name":     func(r *Record) { r.Name = "../escape" },
		"mode":     func(r *Record) { r.Mode = "staging" },
		"script":   func(r *Record) { r.Script = "  " },
		"revision": func(r *Record) { r.Revision = 0 },
		"perm":     func(r *Record) { r.Permissions = []string{"fly:away"} },
		"hash":     func(r *Record) { r.Script = "print(2)" },
	}
	for name, mutate := range cases {
		r := good
		mutate(&r)
		if err := r.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"hello", "git-status", "my_tool.v2", "A1"} {
		if err := ValidateName(ok); err != nil {
			t.Fatalf("%q: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"", "-x", "a/b", "has space", strings.Repeat("a", 77)} {
		if err := ValidateName(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("MOCK"); err != nil || m != ModeMock {
		t.Fatalf("unexpected: %v %v", m, err)
	}
	if _, err := ParseMode("dev"); err == nil {
		t.Fatalf("expected error")
	}
}
