package scripting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmhost/server/internal/runtime"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Program is the Lua side of a runtime instance. Each program owns its own
// VM, so its globals are its exported variables.
type Program struct {
	code     *Compiled
	vars     map[string]any
	contexts func() (runtime.ExecutionContext, error)
	ctx      *Context
	binding  *Binding
	timeout  time.Duration
	log      *zap.Logger
}

// NewProgram prepares a program. The VM is constructed lazily on first
// Initialize through contexts, so a globally disabled runtime never gets one.
func NewProgram(code *Compiled, vars map[string]any, contexts func() (runtime.ExecutionContext, error), timeout time.Duration, log *zap.Logger) *Program {
	return &Program{
		code:     code,
		vars:     vars,
		contexts: contexts,
		timeout:  timeout,
		log:      log.With(zap.String("program", code.Name)),
	}
}

func (p *Program) Name() string   { return p.code.Name }
func (p *Program) Digest() string { return p.code.Digest }

// Bind attaches the host bridge. Must be called before Initialize.
func (p *Program) Bind(b *Binding) { p.binding = b }

// Initialize (re)runs the program chunk and then applies exported variable
// overrides. Safe to call more than once.
func (p *Program) Initialize() error {
	if p.ctx == nil {
		ec, err := p.contexts()
		if err != nil {
			return fmt.Errorf("construct vm: %w", err)
		}
		c, ok := ec.(*Context)
		if !ok {
			ec.Close()
			return fmt.Errorf("construct vm: unexpected context %T", ec)
		}
		p.ctx = c
		if p.binding != nil {
			p.binding.install(p.ctx.L, p)
		}
	}

	L := p.ctx.L
	if err := p.pcall(L.NewFunctionFromProto(p.code.Proto)); err != nil {
		return fmt.Errorf("run chunk: %w", err)
	}
	for name, v := range p.vars {
		L.SetGlobal(name, p.toLValue(L, v))
	}
	return nil
}

func (p *Program) Has(event string) bool {
	if p.ctx == nil {
		return false
	}
	_, ok := p.ctx.L.GetGlobal(event).(*lua.LFunction)
	return ok
}

func (p *Program) RunPhase(ph runtime.Phase) error {
	return p.call(ph.EventName())
}

// RunEvent writes vars into the program's globals, then runs the event.
func (p *Program) RunEvent(name string, vars []runtime.Var) error {
	if p.ctx == nil {
		return errNotInitialized
	}
	L := p.ctx.L
	for _, v := range vars {
		L.SetGlobal(v.Symbol, p.toLValue(L, v.Value))
	}
	return p.call(name)
}

// RunInput calls the action handler as handler(value, args), where value is
// a boolean for buttons and a number for axes.
func (p *Program) RunInput(action string, ev runtime.InputEvent) error {
	if p.ctx == nil {
		return errNotInitialized
	}
	L := p.ctx.L
	args := L.NewTable()
	var value lua.LValue
	switch ev.Kind {
	case runtime.InputAxis:
		value = lua.LNumber(ev.Float)
		args.RawSetString("kind", lua.LString("axis"))
	default:
		value = lua.LBool(ev.Bool)
		args.RawSetString("kind", lua.LString("button"))
	}
	args.RawSetString("bool", lua.LBool(ev.Bool))
	args.RawSetString("float", lua.LNumber(ev.Float))
	args.RawSetString("hand", lua.LString(handName(ev.Hand)))
	return p.call(action, value, args)
}

// Global reads a program global; nil before Initialize.
func (p *Program) Global(name string) lua.LValue {
	if p.ctx == nil {
		return lua.LNil
	}
	return p.ctx.L.GetGlobal(name)
}

// Close releases the VM.
func (p *Program) Close() {
	if p.ctx != nil {
		p.ctx.Close()
		p.ctx = nil
	}
}

var errNotInitialized = errors.New("program not initialized")

// call runs a global function if the program defines it. Missing events are
// not errors.
func (p *Program) call(name string, args ...lua.LValue) error {
	if p.ctx == nil {
		return errNotInitialized
	}
	fn, ok := p.ctx.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil
	}
	return p.pcall(fn, args...)
}

func (p *Program) pcall(fn *lua.LFunction, args ...lua.LValue) error {
	L := p.ctx.L
	// Nested calls (host.send back into this VM) run under the outer deadline.
	if p.timeout > 0 && L.Context() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		L.SetContext(ctx)
		defer L.RemoveContext()
	}
	return L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...)
}

func handName(h runtime.Hand) string {
	switch h {
	case runtime.HandLeft:
		return "left"
	case runtime.HandRight:
		return "right"
	default:
		return "none"
	}
}
