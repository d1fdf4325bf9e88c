package runtime

import (
	"slices"
	"sort"

	"go.uber.org/zap"
)

type mutation struct {
	inst *Instance
	add  bool
}

// PhaseRegistry is the ordered active set for one phase. Registration and
// unregistration only enqueue; the queue is replayed after each pass so a
// callback that (un)registers programs can never disturb the pass in flight.
type PhaseRegistry struct {
	phase   Phase
	active  []*Instance // sorted by (UpdateOrder, Seq)
	members map[*Instance]struct{}
	pending []mutation
	exec    *executor
	log     *zap.Logger
}

func NewPhaseRegistry(phase Phase, log *zap.Logger) *PhaseRegistry {
	return newPhaseRegistry(phase, newExecutor(log), log)
}

func newPhaseRegistry(phase Phase, exec *executor, log *zap.Logger) *PhaseRegistry {
	return &PhaseRegistry{
		phase:   phase,
		active:  make([]*Instance, 0, 64),
		members: make(map[*Instance]struct{}, 64),
		exec:    exec,
		log:     log.With(zap.Stringer("phase", phase)),
	}
}

func (r *PhaseRegistry) Phase() Phase { return r.phase }

// Register queues inst for addition after the next pass.
func (r *PhaseRegistry) Register(inst *Instance) {
	r.pending = append(r.pending, mutation{inst: inst, add: true})
}

// Unregister queues inst for removal after the next pass.
func (r *PhaseRegistry) Unregister(inst *Instance) {
	r.pending = append(r.pending, mutation{inst: inst, add: false})
}

// Tick runs one pass. Returns the number of callbacks invoked.
func (r *PhaseRegistry) Tick() int {
	event := r.phase.EventName()
	invoked := 0
	anyDead := false

	for _, inst := range r.active {
		if !inst.Alive() {
			anyDead = true
			continue
		}
		if !inst.Enabled() {
			continue
		}
		r.exec.call(FailureCallback, inst, event, func() error {
			return inst.vm.RunPhase(r.phase)
		})
		invoked++
	}

	if anyDead {
		r.sweep()
	}
	r.drain()
	return invoked
}

// sweep removes every dead instance in one pass.
func (r *PhaseRegistry) sweep() {
	before := len(r.active)
	r.active = slices.DeleteFunc(r.active, func(inst *Instance) bool {
		if inst.Alive() {
			return false
		}
		delete(r.members, inst)
		return true
	})
	r.log.Debug("swept dead instances", zap.Int("removed", before-len(r.active)))
}

// drain replays queued mutations in FIFO order.
func (r *PhaseRegistry) drain() {
	if len(r.pending) == 0 {
		return
	}
	queue := r.pending
	r.pending = nil
	for _, m := range queue {
		if m.add {
			r.insert(m.inst)
		} else {
			r.remove(m.inst)
		}
	}
}

func (r *PhaseRegistry) insert(inst *Instance) {
	if inst == nil || !inst.Alive() {
		return
	}
	if _, ok := r.members[inst]; ok {
		return
	}
	idx := sort.Search(len(r.active), func(i int) bool {
		return !r.active[i].before(inst)
	})
	r.active = slices.Insert(r.active, idx, inst)
	r.members[inst] = struct{}{}
}

func (r *PhaseRegistry) remove(inst *Instance) {
	if _, ok := r.members[inst]; !ok {
		return
	}
	delete(r.members, inst)
	if idx := slices.Index(r.active, inst); idx >= 0 {
		r.active = slices.Delete(r.active, idx, idx+1)
	}
}

// Contains reports active membership (pending mutations not applied).
func (r *PhaseRegistry) Contains(inst *Instance) bool {
	_, ok := r.members[inst]
	return ok
}

func (r *PhaseRegistry) Len() int     { return len(r.active) }
func (r *PhaseRegistry) Pending() int { return len(r.pending) }
