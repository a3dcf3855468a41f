// Package sandbox runs artifact scripts. The Lua state opens no library that
// reaches the host; host access comes only from capability modules installed
// for the declared grants.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
	"github.com/ncruces/go-strftime"
	lua "github.com/yuin/gopher-lua"
)

const (
	sandboxTimeoutViolation = "sandbox timeout"
	sandboxMemoryViolation  = "sandbox memory limit"
)

// ErrTimeout is returned when a script exceeds its wall-clock limit.
var ErrTimeout = errors.New(sandboxTimeoutViolation)

// Limits bound a single run.
type Limits struct {
	Timeout          time.Duration
	MemoryLimitBytes int
}

// Program is a script together with what it may touch.
type Program struct {
	Script string
	Grants permission.Set
	Args   []string
	Limits Limits
	// Seed fixes math.random; zero seeds from the clock.
	Seed int64
}

// Stdio receives the script's output.
type Stdio struct {
	Out io.Writer
	Err io.Writer
}

// unsafeBaseFuncs load code or reach outside the state.
var unsafeBaseFuncs = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "setfenv", "getfenv", "newproxy", "_printregs",
}

type runtime struct {
	L        *lua.LState
	ctx      context.Context
	grants   permission.Set
	paths    permission.Set
	stdio    Stdio
	exited   bool
	exitCode int
}

// Run executes p. Script failures, including Lua errors and denied
// capabilities, are reported on stdio.Err with exit code 1. The error return
// is reserved for timeouts and cancellation.
func Run(ctx context.Context, p Program, stdio Stdio) (int, error) {
	if stdio.Out == nil {
		stdio.Out = io.Discard
	}
	if stdio.Err == nil {
		stdio.Err = io.Discard
	}
	runCtx := ctx
	if p.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Limits.Timeout)
		defer cancel()
	}

	L := newSandboxLuaState(p.Limits)
	defer L.Close()
	L.SetContext(runCtx)

	rt := &runtime{L: L, ctx: runCtx, grants: p.Grants, stdio: stdio}
	rt.installOutput()
	rt.installOS()
	rt.installArgs(p.Args)
	installRandom(L, p.Seed)
	rt.installCapabilities()

	fn, err := L.LoadString(p.Script)
	if err != nil {
		fmt.Fprintf(stdio.Err, "syntax error: %v\n", err)
		return 1, nil
	}
	L.Push(fn)
	err = L.PCall(0, 0, nil)
	if rt.exited {
		return rt.exitCode, nil
	}
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		fmt.Fprintln(stdio.Err, sandboxTimeoutViolation)
		return -1, fmt.Errorf("%w after %s", ErrTimeout, p.Limits.Timeout)
	}
	if strings.Contains(strings.ToLower(err.Error()), "registry overflow") {
		fmt.Fprintln(stdio.Err, sandboxMemoryViolation)
		return 1, nil
	}
	fmt.Fprintln(stdio.Err, luaErrorMessage(err))
	return 1, nil
}

func newSandboxLuaState(limits Limits) *lua.LState {
	regMax := registryMaxFromMemory(limits.MemoryLimitBytes)
	regSize := 1024 * 5
	if regSize > regMax {
		regSize = regMax
	}
	L := lua.NewState(lua.Options{
		SkipOpenLibs:     true,
		RegistrySize:     regSize,
		RegistryMaxSize:  regMax,
		RegistryGrowStep: 32,
	})
	openLib := func(name string, f lua.LGFunction) {
		L.Push(L.NewFunction(f))
		L.Push(lua.LString(name))
		L.Call(1, 0)
	}
	openLib("base", lua.OpenBase)
	openLib("string", lua.OpenString)
	openLib("table", lua.OpenTable)
	openLib("math", lua.OpenMath)
	for _, name := range unsafeBaseFuncs {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func registryMaxFromMemory(memoryLimitBytes int) int {
	if memoryLimitBytes <= 0 {
		return 1024 * 256
	}
	n := memoryLimitBytes / 64
	if n < 1024 {
		n = 1024
	}
	if n > 1024*256 {
		n = 1024 * 256
	}
	return n
}

// luaErrorMessage drops the Go-side stack trace that gopher-lua appends.
func luaErrorMessage(err error) string {
	var ae *lua.ApiError
	if errors.As(err, &ae) && ae.Object != nil {
		return ae.Object.String()
	}
	return err.Error()
}

func (rt *runtime) writeValues(w io.Writer, sep string, from int) {
	L := rt.L
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := from; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	_, _ = io.WriteString(w, strings.Join(parts, sep))
}

func (rt *runtime) installOutput() {
	L := rt.L
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		rt.writeValues(rt.stdio.Out, "\t", 1)
		_, _ = io.WriteString(rt.stdio.Out, "\n")
		return 0
	}))
	ioTbl := L.NewTable()
	L.SetField(ioTbl, "write", L.NewFunction(func(L *lua.LState) int {
		rt.writeValues(rt.stdio.Out, "", 1)
		return 0
	}))
	L.SetField(ioTbl, "stderr", L.NewFunction(func(L *lua.LState) int {
		rt.writeValues(rt.stdio.Err, "", 1)
		return 0
	}))
	L.SetGlobal("io", ioTbl)
}

func (rt *runtime) installOS() {
	L := rt.L
	osTbl := L.NewTable()
	L.SetField(osTbl, "time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	L.SetField(osTbl, "clock", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(startTime).Seconds()))
		return 1
	}))
	L.SetField(osTbl, "date", L.NewFunction(func(L *lua.LState) int {
		format := L.OptString(1, "%c")
		t := time.Now()
		if L.GetTop() >= 2 {
			t = time.Unix(L.CheckInt64(2), 0)
		}
		if utc, ok := strings.CutPrefix(format, "!"); ok {
			format = utc
			t = t.UTC()
		}
		L.Push(lua.LString(strftime.Format(format, t)))
		return 1
	}))
	L.SetField(osTbl, "exit", L.NewFunction(func(L *lua.LState) int {
		code := 0
		switch v := L.Get(1).(type) {
		case lua.LNumber:
			code = int(v)
		case lua.LBool:
			if !bool(v) {
				code = 1
			}
		}
		rt.exited = true
		rt.exitCode = code
		L.RaiseError("exit %d", code)
		return 0
	}))
	L.SetGlobal("os", osTbl)
}

var startTime = time.Now()

func (rt *runtime) installArgs(args []string) {
	tbl := rt.L.NewTable()
	for i, a := range args {
		tbl.RawSetInt(i+1, lua.LString(a))
	}
	rt.L.SetGlobal("args", tbl)
}

func installRandom(L *lua.LState, seed int64) {
	mathTbl, ok := L.GetGlobal("math").(*lua.LTable)
	if !ok || mathTbl == nil {
		return
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	mathTbl.RawSetString("random", L.NewFunction(func(L *lua.LState) int {
		switch L.GetTop() {
		case 0:
			L.Push(lua.LNumber(rng.Float64()))
			return 1
		case 1:
			max := L.CheckInt(1)
			if max < 1 {
				L.ArgError(1, "interval is empty")
				return 0
			}
			L.Push(lua.LNumber(rng.Intn(max) + 1))
			return 1
		default:
			min := L.CheckInt(1)
			max := L.CheckInt(2)
			if max < min {
				L.ArgError(2, "interval is empty")
				return 0
			}
			L.Push(lua.LNumber(rng.Intn(max-min+1) + min))
			return 1
		}
	}))
	mathTbl.RawSetString("randomseed", L.NewFunction(func(L *lua.LState) int {
		rng.Seed(L.CheckInt64(1))
		return 0
	}))
}
