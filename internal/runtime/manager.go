package runtime

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmhost/server/internal/sandbox"
	"go.uber.org/zap"
)

// ErrDisabled is returned by ConstructExecutionContext while the runtime is
// globally disabled.
var ErrDisabled = errors.New("runtime: execution globally disabled")

// ExecutionContext is one runnable VM instance.
type ExecutionContext interface {
	Close()
}

// VMFactory builds execution contexts.
type VMFactory interface {
	NewContext() (ExecutionContext, error)
}

// Observer receives lifecycle notifications. Calls happen synchronously on
// the loop goroutine.
type Observer interface {
	ContainerLoaded(c Container, additive, enabled bool, programs int)
	ContainerUnloaded(id uuid.UUID)
	ProgramFailed(f Failure)
}

// Manager composes the phase registries, input router, directory and object
// filter. It is the only entry point the host calls. Not safe for concurrent
// use: confine every call to the goroutine that drives Tick.
type Manager struct {
	enabled  bool
	seq      uint64
	filter   *sandbox.Filter
	phases   [phaseCount]*PhaseRegistry
	input    *InputRouter
	dir      *Directory
	factory  VMFactory
	exec     *executor
	observer Observer
	log      *zap.Logger
}

func NewManager(factory VMFactory, log *zap.Logger) *Manager {
	exec := newExecutor(log)
	m := &Manager{
		enabled: true,
		filter:  sandbox.NewFilter(log),
		input:   newInputRouter(exec, log),
		dir:     newDirectory(exec, log),
		factory: factory,
		exec:    exec,
		log:     log,
	}
	for _, p := range Phases {
		m.phases[p] = newPhaseRegistry(p, exec, log)
	}
	exec.report = m.reportFailure
	return m
}

// SetObserver installs the lifecycle observer. nil disables notifications.
func (m *Manager) SetObserver(o Observer) { m.observer = o }

func (m *Manager) reportFailure(f Failure) {
	if m.observer != nil {
		m.observer.ProgramFailed(f)
	}
}

// ── Global state ───────────────────────────────────────────────────

// SetEnabled is the global kill-switch. Disabling gates future container
// loads and VM construction; programs already running keep running.
func (m *Manager) SetEnabled(on bool) {
	if m.enabled == on {
		return
	}
	m.enabled = on
	m.log.Info("runtime execution state changed", zap.Bool("enabled", on))
}

func (m *Manager) Enabled() bool { return m.enabled }

// ConstructExecutionContext is the single VM creation choke-point.
func (m *Manager) ConstructExecutionContext() (ExecutionContext, error) {
	if !m.enabled {
		return nil, ErrDisabled
	}
	ctx, err := m.factory.NewContext()
	if err != nil {
		return nil, fmt.Errorf("construct execution context: %w", err)
	}
	return ctx, nil
}

// Current returns the instance whose callback is executing, or nil.
func (m *Manager) Current() *Instance { return m.exec.current }

// NewInstance creates an instance with the next creation sequence number.
func (m *Manager) NewInstance(entity EntityRef, updateOrder int, vm Behaviour) *Instance {
	m.seq++
	return NewInstance(m.seq, entity, updateOrder, vm)
}

// ── Scheduling ─────────────────────────────────────────────────────

// Tick runs one pass of phase. After Update the input queue is drained so
// subscriptions changed during the pass are live for this frame's input.
func (m *Manager) Tick(phase Phase) int {
	r := m.Registry(phase)
	if r == nil {
		return 0
	}
	n := r.Tick()
	if phase == PhaseUpdate {
		m.input.Drain()
	}
	return n
}

// RegisterPhase queues inst into phase. Unknown phases are ignored.
func (m *Manager) RegisterPhase(inst *Instance, phase Phase) {
	if r := m.Registry(phase); r != nil {
		r.Register(inst)
	}
}

func (m *Manager) UnregisterPhase(inst *Instance, phase Phase) {
	if r := m.Registry(phase); r != nil {
		r.Unregister(inst)
	}
}

// Registry exposes the registry for phase, nil if phase is unknown.
func (m *Manager) Registry(phase Phase) *PhaseRegistry {
	if phase < 0 || phase >= phaseCount {
		return nil
	}
	return m.phases[phase]
}

func (m *Manager) RegisterInput(inst *Instance, action string, subscribe bool) {
	m.input.Register(inst, action, subscribe)
}

func (m *Manager) DispatchInput(action string, ev InputEvent) int {
	return m.input.Dispatch(action, ev)
}

func (m *Manager) Input() *InputRouter { return m.input }

// Activate queues inst into every phase and input action its program
// defines. Disabled instances are left alone.
func (m *Manager) Activate(inst *Instance) {
	if inst.Enabled() {
		m.enroll(inst, true)
	}
}

// SetInstanceEnabled flips inst and queues the matching (un)registrations.
// Safe to call from inside a callback; the change lands after the pass.
func (m *Manager) SetInstanceEnabled(inst *Instance, on bool) {
	if inst.Enabled() == on {
		return
	}
	inst.SetEnabled(on)
	m.enroll(inst, on)
}

func (m *Manager) enroll(inst *Instance, on bool) {
	vm := inst.Behaviour()
	if vm == nil {
		return
	}
	for _, p := range Phases {
		if !vm.Has(p.EventName()) {
			continue
		}
		if on {
			m.phases[p].Register(inst)
		} else {
			m.phases[p].Unregister(inst)
		}
	}
	for _, action := range InputActions {
		if vm.Has(action) {
			m.input.Register(inst, action, on)
		}
	}
}

// ── Containers and events ──────────────────────────────────────────

// LoadContainer indexes and initializes c, then activates every program
// that initialized. While disabled the container's programs are destroyed.
func (m *Manager) LoadContainer(c Container, additive bool) int {
	loaded := m.dir.Load(c, additive, m.enabled)
	for _, inst := range loaded {
		m.Activate(inst)
	}
	if m.observer != nil {
		m.observer.ContainerLoaded(c, additive, m.enabled, len(loaded))
	}
	return len(loaded)
}

func (m *Manager) UnloadContainer(id uuid.UUID) {
	if m.dir.Unload(id) && m.observer != nil {
		m.observer.ContainerUnloaded(id)
	}
}

// Register indexes a program attached at runtime, initializes it and
// activates it.
func (m *Manager) Register(inst *Instance) error {
	if err := m.dir.Register(inst); err != nil {
		return err
	}
	m.Activate(inst)
	return nil
}

// RunEvent runs a named event on every loaded program.
func (m *Manager) RunEvent(name string, vars ...Var) int {
	return m.dir.DispatchAll(name, vars)
}

// RunEventOn runs a named event on the programs attached to entity.
func (m *Manager) RunEventOn(entity EntityRef, name string, vars ...Var) int {
	return m.dir.DispatchEntity(entity, name, vars)
}

func (m *Manager) Directory() *Directory { return m.dir }

// ── Sandbox boundary ───────────────────────────────────────────────

func (m *Manager) Filter() *sandbox.Filter { return m.filter }

func (m *Manager) Blacklist(h sandbox.Handle)       { m.filter.Blacklist(h) }
func (m *Manager) BlacklistAll(hs []sandbox.Handle) { m.filter.BlacklistAll(hs) }
func (m *Manager) IsBlacklisted(h sandbox.Handle) bool {
	return m.filter.IsBlacklisted(h)
}
func (m *Manager) FilterBlacklisted(h *sandbox.Handle) bool { return m.filter.Filter(h) }
func (m *Manager) ClearBlacklist()                          { m.filter.Clear() }
