package corrective

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/cache"
	"github.com/flarebyte/ergo/internal/generator"
	"github.com/flarebyte/ergo/internal/permission"
	"github.com/google/go-cmp/cmp"
)

func openStore(t *testing.T, mode artifact.Mode) *cache.Store {
	t.Helper()
	s, err := cache.Open(t.TempDir(), mode)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func seed(t *testing.T, s *cache.Store, name, intent, script string, perms ...string) artifact.Record {
	t.Helper()
	set, err := permission.ParseAll(perms)
	if err != nil {
		t.Fatalf("parse permissions: %v", err)
	}
	rec := artifact.New(name, s.Mode(), intent, artifact.Content{Script: script, Permissions: set}, time.Unix(100, 0))
	rec.ApprovedHash = rec.ContentHash
	if err := s.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	return rec
}

func get(t *testing.T, s *cache.Store, name string) artifact.Record {
	t.Helper()
	rec, ok, err := s.Get(name)
	if err != nil || !ok {
		t.Fatalf("get %s: ok=%v err=%v", name, ok, err)
	}
	return rec
}

func TestCorrect_PasswordScenario(t *testing.T) {
	s := openStore(t, artifact.ModeProduction)
	gen := generator.NewDeterministic(generator.Options{})
	first, err := gen.Generate(context.Background(), generator.CommandIntent("password", nil), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	orig := artifact.New("password", artifact.ModeProduction, "password", artifact.Content{Script: first.Script, Permissions: first.Permissions}, time.Now())
	orig.ApprovedHash = orig.ContentHash
	if err := s.Put(orig); err != nil {
		t.Fatalf("put: %v", err)
	}

	next, err := Correct(context.Background(), s, gen, "password", "at least 20 characters, mixed case, digits, symbols")
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if next.Revision != 2 || next.ContentHash == orig.ContentHash || next.ApprovedHash != "" {
		t.Fatalf("unexpected revision: %+v", next)
	}
	if diff := cmp.Diff(next, get(t, s, "password")); diff != "" {
		t.Fatalf("stored record differs (-returned +stored):\n%s", diff)
	}
}

func TestCorrect_UsesLastStderrAndIntent(t *testing.T) {
	s := openStore(t, artifact.ModeMock)
	rec := seed(t, s, "report", "report --weekly", `error("x")`)
	rec.LastStderr = "TypeError: Cannot read property 'foo'"
	if err := s.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	var gotIntent generator.Intent
	var gotCorrection *generator.Correction
	gen := generator.Func(func(ctx context.Context, intent generator.Intent, c *generator.Correction) (generator.Candidate, error) {
		gotIntent, gotCorrection = intent, c
		return generator.Candidate{Name: "something-else", Script: `print("fixed")`}, nil
	})
	next, err := Correct(context.Background(), s, gen, "report", "")
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	wantCorrection := &generator.Correction{
		PreviousScript: `error("x")`,
		PreviousStderr: "TypeError: Cannot read property 'foo'",
	}
	if diff := cmp.Diff(wantCorrection, gotCorrection); diff != "" {
		t.Fatalf("unexpected correction (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(generator.Intent{Name: "report", Text: "report --weekly"}, gotIntent); diff != "" {
		t.Fatalf("unexpected intent (-want +got):\n%s", diff)
	}
	if next.Name != "report" || next.Intent != "report --weekly" || next.Revision != 2 || next.LastStderr != "" {
		t.Fatalf("identity or lineage lost: %+v", next)
	}
}

func TestCorrect_SameContentStillClearsApproval(t *testing.T) {
	s := openStore(t, artifact.ModeMock)
	rec := seed(t, s, "same", "same", `print(1)`, "env:HOME")
	gen := generator.Func(func(ctx context.Context, intent generator.Intent, c *generator.Correction) (generator.Candidate, error) {
		return generator.Candidate{Script: rec.Script, Permissions: permission.Set{{Kind: permission.KindEnv, Target: "HOME"}}}, nil
	})
	next, err := Correct(context.Background(), s, gen, "same", "try again")
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if next.ContentHash != rec.ContentHash {
		t.Fatalf("expected identical content hash")
	}
	if next.Revision != rec.Revision+1 || next.Approved() {
		t.Fatalf("revision must increase and approval must clear: %+v", next)
	}
}

func TestCorrect_NoRecord(t *testing.T) {
	s := openStore(t, artifact.ModeMock)
	calls := 0
	gen := generator.Func(func(ctx context.Context, intent generator.Intent, c *generator.Correction) (generator.Candidate, error) {
		calls++
		return generator.Candidate{}, nil
	})
	if _, err := Correct(context.Background(), s, gen, "missing", "x"); !errors.Is(err, ErrNoRecordToCorrect) {
		t.Fatalf("expected ErrNoRecordToCorrect, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("generator must not be called without a record")
	}
}

func TestCorrect_GeneratorFailureLeavesRecord(t *testing.T) {
	s := openStore(t, artifact.ModeMock)
	rec := seed(t, s, "flaky", "flaky", `print(1)`)
	gen := generator.Func(func(ctx context.Context, intent generator.Intent, c *generator.Correction) (generator.Candidate, error) {
		return generator.Candidate{}, &generator.Error{Kind: generator.KindUnavailable, Backend: "remote", Err: errors.New("connection refused")}
	})
	_, err := Correct(context.Background(), s, gen, "flaky", "x")
	if !errors.Is(err, generator.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if diff := cmp.Diff(rec, get(t, s, "flaky")); diff != "" {
		t.Fatalf("record changed after failed correction (-want +got):\n%s", diff)
	}
}

func TestCorrect_ModesAreIndependent(t *testing.T) {
	root := t.TempDir()
	mock, err := cache.Open(root, artifact.ModeMock)
	if err != nil {
		t.Fatalf("open mock: %v", err)
	}
	prod, err := cache.Open(root, artifact.ModeProduction)
	if err != nil {
		t.Fatalf("open production: %v", err)
	}
	seed(t, mock, "hello", "hello", `print("mock")`)
	prodRec := seed(t, prod, "hello", "hello", `print("prod")`)

	gen := generator.NewDeterministic(generator.Options{})
	if _, err := Correct(context.Background(), mock, gen, "hello", "louder"); err != nil {
		t.Fatalf("correct: %v", err)
	}
	if diff := cmp.Diff(prodRec, get(t, prod, "hello")); diff != "" {
		t.Fatalf("production record changed (-want +got):\n%s", diff)
	}
}
