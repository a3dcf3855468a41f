package sandbox

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
)

func mustGrants(t *testing.T, items ...string) permission.Set {
	t.Helper()
	s, err := permission.ParseAll(items)
	if err != nil {
		t.Fatalf("parse grants: %v", err)
	}
	return s
}

func runScript(t *testing.T, p Program) (int, string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	if p.Limits.Timeout == 0 {
		p.Limits.Timeout = 5 * time.Second
	}
	code, err := Run(context.Background(), p, Stdio{Out: &out, Err: &errOut})
	return code, out.String(), errOut.String(), err
}

func TestRun_PrintAndArgs(t *testing.T) {
	code, out, _, err := runScript(t, Program{
		Script: `print("hello", #args) io.write(table.concat(args, "+"), "\n")`,
		Args:   []string{"a", "b"},
	})
	if err != nil || code != 0 {
		t.Fatalf("unexpected result: code=%d err=%v", code, err)
	}
	if out != "hello\t2\na+b\n" {
		t.Fatalf("unexpected stdout %q", out)
	}
}

func TestRun_ExitCodeAndStderr(t *testing.T) {
	code, _, stderr, err := runScript(t, Program{Script: `io.stderr("bad input\n") os.exit(3) print("unreachable")`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 || stderr != "bad input\n" {
		t.Fatalf("unexpected result: code=%d stderr=%q", code, stderr)
	}
}

func TestRun_ScriptErrorIsExitOne(t *testing.T) {
	code, _, stderr, err := runScript(t, Program{Script: `error("kaboom")`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 1 || !strings.Contains(stderr, "kaboom") {
		t.Fatalf("unexpected result: code=%d stderr=%q", code, stderr)
	}
	if strings.Contains(stderr, "stack traceback") {
		t.Fatalf("stack trace leaked to stderr: %q", stderr)
	}
}

func TestRun_SyntaxError(t *testing.T) {
	code, _, stderr, err := runScript(t, Program{Script: `print(`})
	if err != nil || code != 1 || !strings.HasPrefix(stderr, "syntax error:") {
		t.Fatalf("unexpected result: code=%d stderr=%q err=%v", code, stderr, err)
	}
}

func TestRun_UnsafeBaseFunctionsRemoved(t *testing.T) {
	for _, name := range []string{"dofile", "loadstring", "load", "require", "loadfile"} {
		code, out, _, err := runScript(t, Program{Script: `print(type(` + name + `))`})
		if err != nil || code != 0 || out != "nil\n" {
			t.Fatalf("%s still reachable: code=%d out=%q err=%v", name, code, out, err)
		}
	}
}

func TestRun_NoCapabilitiesWithoutGrants(t *testing.T) {
	code, out, _, err := runScript(t, Program{Script: `print(type(fs), type(http), type(env), type(exec), type(os.execute), type(io.open))`})
	if err != nil || code != 0 {
		t.Fatalf("unexpected result: code=%d err=%v", code, err)
	}
	if out != "nil\tnil\tnil\tnil\tnil\tnil\n" {
		t.Fatalf("host access leaked: %q", out)
	}
}

func TestRun_FsWithinGrant(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	script := `
local s = fs.read(args[1] .. "/in.txt")
fs.write(args[1] .. "/out.txt", string.upper(s))
print(fs.exists(args[1] .. "/out.txt"), #fs.list(args[1]))
`
	code, out, stderr, err := runScript(t, Program{
		Script: script,
		Args:   []string{dir},
		Grants: mustGrants(t, "read:"+dir, "write:"+dir),
	})
	if err != nil || code != 0 {
		t.Fatalf("unexpected result: code=%d stderr=%q err=%v", code, stderr, err)
	}
	if out != "true\t2\n" {
		t.Fatalf("unexpected stdout %q", out)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "out.txt"))
	if string(got) != "DATA" {
		t.Fatalf("unexpected file content %q", got)
	}
}

func TestRun_FsOutsideGrantDenied(t *testing.T) {
	allowed := t.TempDir()
	other := t.TempDir()
	code, _, stderr, err := runScript(t, Program{
		Script: `fs.write(args[1] .. "/x", "y")`,
		Args:   []string{other},
		Grants: mustGrants(t, "write:"+allowed),
	})
	if err != nil || code != 1 {
		t.Fatalf("unexpected result: code=%d err=%v", code, err)
	}
	if !strings.Contains(stderr, "permission denied: write:") {
		t.Fatalf("expected denial, got %q", stderr)
	}
	if _, err := os.Stat(filepath.Join(other, "x")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file must not be written outside the grant")
	}
}

func TestRun_FsSymlinkOutOfGrantDenied(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("top"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(secret, filepath.Join(allowed, "leak")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(allowed, "door")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "new.txt"), filepath.Join(allowed, "dangling")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	grants := mustGrants(t, "read:"+allowed, "write:"+allowed)
	scripts := []string{
		`fs.read(args[1] .. "/leak")`,
		`fs.list(args[1] .. "/door")`,
		`fs.exists(args[1] .. "/door/secret.txt")`,
		`fs.write(args[1] .. "/door/planted.txt", "x")`,
		`fs.write(args[1] .. "/dangling", "x")`,
	}
	for _, script := range scripts {
		code, _, stderr, err := runScript(t, Program{Script: script, Args: []string{allowed}, Grants: grants})
		if err != nil || code != 1 || !strings.Contains(stderr, "permission denied") {
			t.Fatalf("%s: expected denial, got code=%d stderr=%q err=%v", script, code, stderr, err)
		}
	}
	for _, name := range []string{"planted.txt", "new.txt"} {
		if _, err := os.Stat(filepath.Join(outside, name)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s must not be created outside the grant", name)
		}
	}

	code, out, stderr, err := runScript(t, Program{
		Script: `fs.write(args[1] .. "/plain.txt", "ok") print(fs.read(args[1] .. "/plain.txt"))`,
		Args:   []string{allowed},
		Grants: grants,
	})
	if err != nil || code != 0 || out != "ok\n" {
		t.Fatalf("plain access inside the grant: code=%d out=%q stderr=%q err=%v", code, out, stderr, err)
	}
}

func TestRun_ReadGrantDoesNotInstallWrite(t *testing.T) {
	code, out, _, _ := runScript(t, Program{
		Script: `print(type(fs.read), type(fs.write))`,
		Grants: mustGrants(t, "read:."),
	})
	if code != 0 || out != "function\tnil\n" {
		t.Fatalf("unexpected result: code=%d out=%q", code, out)
	}
}

func TestRun_EnvGrant(t *testing.T) {
	t.Setenv("ERGO_SANDBOX_TEST", "visible")
	t.Setenv("ERGO_SANDBOX_SECRET", "hidden")
	code, out, stderr, _ := runScript(t, Program{
		Script: `print(env.get("ERGO_SANDBOX_TEST")) print(env.get("ERGO_SANDBOX_SECRET"))`,
		Grants: mustGrants(t, "env:ERGO_SANDBOX_TEST"),
	})
	if code != 1 || out != "visible\n" || !strings.Contains(stderr, "permission denied: env:ERGO_SANDBOX_SECRET") {
		t.Fatalf("unexpected result: code=%d out=%q stderr=%q", code, out, stderr)
	}
}

func TestRun_HTTPGetHostGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("sunny"))
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	code, out, stderr, err := runScript(t, Program{
		Script: `local body, status = http.get(args[1]) print(body, status)`,
		Args:   []string{srv.URL},
		Grants: mustGrants(t, "net:"+u.Hostname()),
	})
	if err != nil || code != 0 || out != "sunny\t200\n" {
		t.Fatalf("unexpected result: code=%d out=%q stderr=%q err=%v", code, out, stderr, err)
	}

	code, _, stderr, _ = runScript(t, Program{
		Script: `http.get(args[1])`,
		Args:   []string{srv.URL},
		Grants: mustGrants(t, "net:example.invalid"),
	})
	if code != 1 || !strings.Contains(stderr, "permission denied: net:") {
		t.Fatalf("expected denial, got code=%d stderr=%q", code, stderr)
	}
}

func TestRun_ExecRunGrant(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	code, out, stderr, err := runScript(t, Program{
		Script: `local o, e, c = exec.run("echo", {"hi", "there"}) io.write(o) print(c)`,
		Grants: mustGrants(t, "run:echo"),
	})
	if err != nil || code != 0 || out != "hi there\n0\n" {
		t.Fatalf("unexpected result: code=%d out=%q stderr=%q err=%v", code, out, stderr, err)
	}
	code, _, stderr, _ = runScript(t, Program{
		Script: `exec.run("rm", {"-rf", "/tmp/nothing"})`,
		Grants: mustGrants(t, "run:echo"),
	})
	if code != 1 || !strings.Contains(stderr, "permission denied: run:rm") {
		t.Fatalf("expected denial, got code=%d stderr=%q", code, stderr)
	}
}

func TestRun_Timeout(t *testing.T) {
	code, _, stderr, err := runScript(t, Program{
		Script: `while true do end`,
		Limits: Limits{Timeout: 50 * time.Millisecond},
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got code=%d err=%v", code, err)
	}
	if !strings.Contains(stderr, sandboxTimeoutViolation) {
		t.Fatalf("expected timeout notice on stderr, got %q", stderr)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := Run(ctx, Program{Script: `while true do end`}, Stdio{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestRun_DeterministicSeed(t *testing.T) {
	p := Program{Script: `print(math.random(1, 1000000))`, Seed: 42}
	_, a, _, _ := runScript(t, p)
	_, b, _, _ := runScript(t, p)
	if a != b {
		t.Fatalf("same seed gave %q and %q", a, b)
	}
}

func TestRun_OsDate(t *testing.T) {
	code, out, _, err := runScript(t, Program{Script: `print(os.date("!%Y", 0))`})
	if err != nil || code != 0 || out != "1970\n" {
		t.Fatalf("unexpected result: code=%d out=%q err=%v", code, out, err)
	}
}

func TestJob_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	in := Job{Script: "print(1)\n", Permissions: []string{"run:git"}, Args: []string{"x"}, TimeoutMs: 1500}
	if err := WriteJob(f, in); err != nil {
		t.Fatalf("write job: %v", err)
	}
	_ = f.Close()
	out, err := ReadJob(path)
	if err != nil {
		t.Fatalf("read job: %v", err)
	}
	p, err := out.Program()
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	if p.Script != in.Script || p.Limits.Timeout != 1500*time.Millisecond || !p.Grants.Allows(permission.KindRun, "git") {
		t.Fatalf("unexpected program: %+v", p)
	}
}
