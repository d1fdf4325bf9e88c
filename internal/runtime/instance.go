package runtime

import (
	"github.com/google/uuid"
	"github.com/vmhost/server/internal/core/ecs"
)

// Phase is one of the per-frame scheduling slots a program can join.
type Phase int

const (
	PhaseUpdate Phase = iota
	PhaseLateUpdate
	PhaseFixedUpdate

	phaseCount
)

// Phases lists every schedulable phase in registry order.
var Phases = [phaseCount]Phase{PhaseUpdate, PhaseLateUpdate, PhaseFixedUpdate}

// EventName is the program-side callback name for the phase.
func (p Phase) EventName() string {
	switch p {
	case PhaseUpdate:
		return "_update"
	case PhaseLateUpdate:
		return "_lateUpdate"
	case PhaseFixedUpdate:
		return "_fixedUpdate"
	default:
		return ""
	}
}

func (p Phase) String() string {
	switch p {
	case PhaseUpdate:
		return "Update"
	case PhaseLateUpdate:
		return "LateUpdate"
	case PhaseFixedUpdate:
		return "FixedUpdate"
	default:
		return "Unknown"
	}
}

// EntityRef is a weak reference to the host entity owning an instance. The
// host may destroy the entity at any time; Alive reports whether it still
// exists.
type EntityRef interface {
	EntityID() ecs.EntityID
	ContainerID() uuid.UUID
	Alive() bool
}

// Var is one (symbol, value) pair written into a program before a named event runs.
type Var struct {
	Symbol string
	Value  any
}

// Behaviour is the VM side of an instance. Every method runs to completion
// synchronously on the loop goroutine.
type Behaviour interface {
	Initialize() error
	RunPhase(p Phase) error
	RunEvent(name string, vars []Var) error
	RunInput(action string, ev InputEvent) error
	// Has reports whether the program defines the named event.
	Has(event string) bool
	// Name identifies the program source in logs.
	Name() string
}

// Instance is one loaded program bound to a host entity. Identity is the
// pointer; Seq is a creation sequence number that totally orders instances
// with equal update order.
type Instance struct {
	seq       uint64
	entity    EntityRef
	order     int
	enabled   bool
	destroyed bool
	networked bool
	vm        Behaviour
	onDestroy []func(*Instance)
}

// NewInstance creates an enabled instance. Hosts normally go through
// Manager.NewInstance so sequence numbers stay unique.
func NewInstance(seq uint64, entity EntityRef, updateOrder int, vm Behaviour) *Instance {
	return &Instance{
		seq:     seq,
		entity:  entity,
		order:   updateOrder,
		enabled: true,
		vm:      vm,
	}
}

func (i *Instance) Seq() uint64          { return i.seq }
func (i *Instance) Entity() EntityRef    { return i.entity }
func (i *Instance) UpdateOrder() int     { return i.order }
func (i *Instance) Enabled() bool        { return i.enabled }
func (i *Instance) Networked() bool      { return i.networked }
func (i *Instance) Behaviour() Behaviour { return i.vm }

// SetEnabled flips the flag only. Use Manager.SetInstanceEnabled to also
// (un)schedule the instance.
func (i *Instance) SetEnabled(on bool) { i.enabled = on }

// Alive reports whether the instance can still be invoked: not destroyed and
// its owning entity still exists.
func (i *Instance) Alive() bool {
	if i == nil || i.destroyed || i.vm == nil {
		return false
	}
	return i.entity == nil || i.entity.Alive()
}

// OnDestroy registers a hook run once when the instance is destroyed.
func (i *Instance) OnDestroy(fn func(*Instance)) {
	i.onDestroy = append(i.onDestroy, fn)
}

// Destroy detaches the instance. Registries holding it sweep it lazily.
func (i *Instance) Destroy() {
	if i.destroyed {
		return
	}
	i.destroyed = true
	for _, fn := range i.onDestroy {
		fn(i)
	}
	i.onDestroy = nil
}

func (i *Instance) programName() string {
	if i.vm == nil {
		return ""
	}
	return i.vm.Name()
}

// before orders by (UpdateOrder, Seq) ascending.
func (i *Instance) before(o *Instance) bool {
	if i.order != o.order {
		return i.order < o.order
	}
	return i.seq < o.seq
}
