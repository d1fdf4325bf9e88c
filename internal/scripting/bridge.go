package scripting

import (
	"fmt"
	"strings"

	"github.com/vmhost/server/internal/sandbox"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const objectTypeName = "host.object"

// Host is the slice of the host object graph programs may query. Every
// handle it returns is filtered before a program sees it.
type Host interface {
	Lookup(name string) (sandbox.Handle, bool)
	Describe(h sandbox.Handle) (string, bool)
	Children(h sandbox.Handle) []sandbox.Handle
	// Send runs a named event on the programs attached to target.
	Send(target sandbox.Handle, event string) int
}

// Binding wires one program to its host. Filter guards both directions of
// the boundary.
type Binding struct {
	Host       Host
	Filter     *sandbox.Filter
	Self       sandbox.Handle
	SetEnabled func(on bool)
}

// install publishes the `host` table into L.
func (b *Binding) install(L *lua.LState, p *Program) {
	mt := L.NewTypeMetatable(objectTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		if h, ok := ud.Value.(sandbox.Handle); ok {
			L.Push(lua.LString(h.String()))
		} else {
			L.Push(lua.LString("object#?"))
		}
		return 1
	}))

	host := L.NewTable()
	L.SetFuncs(host, map[string]lua.LGFunction{
		"find":        b.luaFind,
		"name":        b.luaName,
		"children":    b.luaChildren,
		"self":        b.luaSelf,
		"valid":       b.luaValid,
		"send":        b.luaSend,
		"set_enabled": b.luaSetEnabled,
		"log":         luaLog(p),
	})
	L.SetGlobal("host", host)
}

// handleValue filters h on its way into the sandbox.
func (b *Binding) handleValue(L *lua.LState, h sandbox.Handle) lua.LValue {
	b.Filter.Filter(&h)
	if h.IsNil() {
		return lua.LNil
	}
	ud := L.NewUserData()
	ud.Value = h
	L.SetMetatable(ud, L.GetTypeMetatable(objectTypeName))
	return ud
}

// checkHandle reads argument n as a handle and filters it on its way out of
// the sandbox. nil and blacklisted objects both come back as sandbox.Nil.
func (b *Binding) checkHandle(L *lua.LState, n int) sandbox.Handle {
	if L.Get(n) == lua.LNil {
		return sandbox.Nil
	}
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(sandbox.Handle)
	if !ok {
		L.ArgError(n, "host object expected")
		return sandbox.Nil
	}
	b.Filter.Filter(&h)
	return h
}

func (b *Binding) luaFind(L *lua.LState) int {
	h, ok := b.Host.Lookup(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.handleValue(L, h))
	return 1
}

func (b *Binding) luaName(L *lua.LState) int {
	h := b.checkHandle(L, 1)
	if h.IsNil() {
		L.Push(lua.LNil)
		return 1
	}
	name, ok := b.Host.Describe(h)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(name))
	return 1
}

func (b *Binding) luaChildren(L *lua.LState) int {
	h := b.checkHandle(L, 1)
	t := L.NewTable()
	if !h.IsNil() {
		kids := b.Host.Children(h)
		b.Filter.FilterAll(kids)
		for _, k := range kids {
			if !k.IsNil() {
				t.Append(b.handleValue(L, k))
			}
		}
	}
	L.Push(t)
	return 1
}

func (b *Binding) luaSelf(L *lua.LState) int {
	L.Push(b.handleValue(L, b.Self))
	return 1
}

func (b *Binding) luaValid(L *lua.LState) int {
	h := b.checkHandle(L, 1)
	if h.IsNil() {
		L.Push(lua.LFalse)
		return 1
	}
	_, ok := b.Host.Describe(h)
	L.Push(lua.LBool(ok))
	return 1
}

func (b *Binding) luaSend(L *lua.LState) int {
	h := b.checkHandle(L, 1)
	event := L.CheckString(2)
	if h.IsNil() {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(b.Host.Send(h, event) > 0))
	return 1
}

func (b *Binding) luaSetEnabled(L *lua.LState) int {
	if b.SetEnabled != nil {
		b.SetEnabled(L.ToBool(1))
	}
	return 0
}

func luaLog(p *Program) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		p.log.Info("program log", zap.String("msg", strings.Join(parts, " ")))
		return 0
	}
}

// toLValue converts manifest and event values into Lua values. Handles pass
// through the filter; without a binding they never cross at all.
func (p *Program) toLValue(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case *lua.LUserData:
		if h, ok := x.Value.(sandbox.Handle); ok {
			return p.toLValue(L, h)
		}
		return x
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint32:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case sandbox.Handle:
		if p.binding == nil {
			return lua.LNil
		}
		return p.binding.handleValue(L, x)
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(p.toLValue(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, p.toLValue(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}
