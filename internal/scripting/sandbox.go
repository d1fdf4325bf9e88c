package scripting

import (
	"fmt"

	"github.com/vmhost/server/internal/runtime"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Only these libraries are opened in a program VM. io, os, package and
// debug are never reachable from sandboxed code.
var sandboxLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// Base functions that reach the filesystem, load arbitrary code or inspect
// VM internals.
var strippedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "getfenv", "setfenv", "newproxy", "_printregs",
}

// Context is one sandboxed Lua VM. Single-goroutine access only (tick loop).
type Context struct {
	L *lua.LState
}

func (c *Context) Close() {
	if c.L != nil {
		c.L.Close()
		c.L = nil
	}
}

// Factory builds sandboxed execution contexts for the runtime manager.
type Factory struct {
	callStack int
	log       *zap.Logger
}

func NewFactory(callStack int, log *zap.Logger) *Factory {
	return &Factory{callStack: callStack, log: log}
}

func (f *Factory) NewContext() (runtime.ExecutionContext, error) {
	L, err := newSandboxState(f.callStack)
	if err != nil {
		return nil, err
	}
	f.log.Debug("lua context constructed")
	return &Context{L: L}, nil
}

func newSandboxState(callStack int) (*lua.LState, error) {
	opts := lua.Options{SkipOpenLibs: true}
	if callStack > 0 {
		opts.CallStackSize = callStack
	}
	L := lua.NewState(opts)

	for _, lib := range sandboxLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open lua lib %q: %w", lib.name, err)
		}
	}
	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	// Set API version global
	L.SetGlobal("API_VERSION", lua.LNumber(1))
	return L, nil
}
