package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
	lua "github.com/yuin/gopher-lua"
)

const (
	maxHTTPBody    = 8 << 20
	maxExecCapture = 8 << 20
	httpTimeout    = 30 * time.Second
)

func (rt *runtime) deny(kind permission.Kind, target string) {
	rt.L.RaiseError("permission denied: %s:%s", kind, target)
}

func (rt *runtime) require(kind permission.Kind, target string) {
	if !rt.grants.Allows(kind, target) {
		rt.deny(kind, target)
	}
}

// installCapabilities exposes one module per granted kind. A module that is
// not installed does not exist in the script's globals at all.
func (rt *runtime) installCapabilities() {
	L := rt.L
	canRead := rt.grants.Has(permission.KindRead)
	canWrite := rt.grants.Has(permission.KindWrite)
	if canRead || canWrite {
		rt.paths = resolvedPathGrants(rt.grants)
		fs := L.NewTable()
		if canRead {
			L.SetField(fs, "read", L.NewFunction(rt.fsRead))
			L.SetField(fs, "list", L.NewFunction(rt.fsList))
			L.SetField(fs, "exists", L.NewFunction(rt.fsExists))
		}
		if canWrite {
			L.SetField(fs, "write", L.NewFunction(rt.fsWrite))
		}
		L.SetGlobal("fs", fs)
	}
	if rt.grants.Has(permission.KindNet) {
		mod := L.NewTable()
		L.SetField(mod, "get", L.NewFunction(rt.httpGet))
		L.SetGlobal("http", mod)
	}
	if rt.grants.Has(permission.KindEnv) {
		mod := L.NewTable()
		L.SetField(mod, "get", L.NewFunction(rt.envGet))
		L.SetGlobal("env", mod)
	}
	if rt.grants.Has(permission.KindRun) {
		mod := L.NewTable()
		L.SetField(mod, "run", L.NewFunction(rt.execRun))
		L.SetGlobal("exec", mod)
	}
}

func (rt *runtime) fsRead(L *lua.LState) int {
	path := rt.requirePath(permission.KindRead, L.CheckString(1))
	b, err := os.ReadFile(path)
	if err != nil {
		L.RaiseError("fs.read: %v", err)
		return 0
	}
	L.Push(lua.LString(b))
	return 1
}

func (rt *runtime) fsList(L *lua.LState) int {
	path := rt.requirePath(permission.KindRead, L.OptString(1, "."))
	entries, err := os.ReadDir(path)
	if err != nil {
		L.RaiseError("fs.list: %v", err)
		return 0
	}
	tbl := L.NewTable()
	for i, e := range entries {
		tbl.RawSetInt(i+1, lua.LString(e.Name()))
	}
	L.Push(tbl)
	return 1
}

func (rt *runtime) fsExists(L *lua.LState) int {
	path := rt.requirePath(permission.KindRead, L.CheckString(1))
	_, err := os.Stat(path)
	L.Push(lua.LBool(err == nil))
	return 1
}

func (rt *runtime) fsWrite(L *lua.LState) int {
	data := L.CheckString(2)
	path := rt.requirePath(permission.KindWrite, L.CheckString(1))
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		L.RaiseError("fs.write: %v", err)
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}

func (rt *runtime) httpGet(L *lua.LState) int {
	raw := L.CheckString(1)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		L.RaiseError("http.get: invalid url %q", raw)
		return 0
	}
	rt.require(permission.KindNet, u.Host)

	client := &http.Client{
		Timeout: httpTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			if !rt.grants.Allows(permission.KindNet, req.URL.Host) {
				return fmt.Errorf("permission denied: net:%s", req.URL.Host)
			}
			return nil
		},
	}
	req, err := http.NewRequestWithContext(rt.ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		L.RaiseError("http.get: %v", err)
		return 0
	}
	req.Header.Set("User-Agent", "curl/8 (ergo)")
	resp, err := client.Do(req)
	if err != nil {
		L.RaiseError("http.get: %v", err)
		return 0
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		L.RaiseError("http.get: %v", err)
		return 0
	}
	L.Push(lua.LString(body))
	L.Push(lua.LNumber(resp.StatusCode))
	return 2
}

func (rt *runtime) envGet(L *lua.LState) int {
	name := L.CheckString(1)
	rt.require(permission.KindEnv, name)
	v, ok := os.LookupEnv(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

// execRun starts a granted program directly, without a shell, and returns
// its captured stdout, stderr and exit code.
func (rt *runtime) execRun(L *lua.LState) int {
	program := L.CheckString(1)
	rt.require(permission.KindRun, program)
	var argv []string
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		for i := 1; i <= tbl.Len(); i++ {
			argv = append(argv, L.ToStringMeta(tbl.RawGetInt(i)).String())
		}
	}
	cmd := exec.CommandContext(rt.ctx, program, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &capped{buf: &stdout, max: maxExecCapture}
	cmd.Stderr = &capped{buf: &stderr, max: maxExecCapture}
	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			L.RaiseError("exec.run: %v", err)
			return 0
		}
		code = exitErr.ExitCode()
	}
	L.Push(lua.LString(stdout.String()))
	L.Push(lua.LString(stderr.String()))
	L.Push(lua.LNumber(code))
	return 3
}

// capped keeps the first max bytes and discards the rest.
type capped struct {
	buf *bytes.Buffer
	max int
}

func (c *capped) Write(p []byte) (int, error) {
	if remain := c.max - c.buf.Len(); remain > 0 {
		if remain > len(p) {
			remain = len(p)
		}
		c.buf.Write(p[:remain])
	}
	return len(p), nil
}
