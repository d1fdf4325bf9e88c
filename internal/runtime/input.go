package runtime

import (
	"slices"
	"sort"

	"go.uber.org/zap"
)

// Recognized input actions. Names outside this set never reach a program.
const (
	InputJump           = "_inputJump"
	InputUse            = "_inputUse"
	InputGrab           = "_inputGrab"
	InputDrop           = "_inputDrop"
	InputMoveVertical   = "_inputMoveVertical"
	InputMoveHorizontal = "_inputMoveHorizontal"
	InputLookVertical   = "_inputLookVertical"
	InputLookHorizontal = "_inputLookHorizontal"
)

// InputActions lists the recognized actions, buttons first.
var InputActions = []string{
	InputJump, InputUse, InputGrab, InputDrop,
	InputMoveVertical, InputMoveHorizontal, InputLookVertical, InputLookHorizontal,
}

var inputActionSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(InputActions))
	for _, a := range InputActions {
		m[a] = struct{}{}
	}
	return m
}()

func IsInputAction(name string) bool {
	_, ok := inputActionSet[name]
	return ok
}

type InputKind uint8

const (
	InputButton InputKind = iota
	InputAxis
)

type Hand uint8

const (
	HandNone Hand = iota
	HandLeft
	HandRight
)

// InputEvent carries the value of one input action.
type InputEvent struct {
	Kind  InputKind
	Bool  bool
	Float float32
	Hand  Hand
}

type inputMutation struct {
	inst      *Instance
	action    string
	subscribe bool
}

// InputRouter maps recognized action names to subscribed instances. Changes
// are queued and applied by Drain.
type InputRouter struct {
	actions map[string][]*Instance // sorted by Seq
	pending []inputMutation
	exec    *executor
	log     *zap.Logger
}

func NewInputRouter(log *zap.Logger) *InputRouter {
	return newInputRouter(newExecutor(log), log)
}

func newInputRouter(exec *executor, log *zap.Logger) *InputRouter {
	return &InputRouter{
		actions: make(map[string][]*Instance, len(InputActions)),
		exec:    exec,
		log:     log,
	}
}

// Register queues a subscription change for action.
func (r *InputRouter) Register(inst *Instance, action string, subscribe bool) {
	r.pending = append(r.pending, inputMutation{inst: inst, action: action, subscribe: subscribe})
}

// Drain applies queued changes in FIFO order. Unrecognized actions are dropped.
func (r *InputRouter) Drain() {
	if len(r.pending) == 0 {
		return
	}
	queue := r.pending
	r.pending = nil
	for _, m := range queue {
		if !IsInputAction(m.action) {
			r.log.Debug("ignoring unrecognized input action", zap.String("action", m.action))
			continue
		}
		subs := r.actions[m.action]
		at := slices.Index(subs, m.inst)
		switch {
		case m.subscribe && at < 0 && m.inst.Alive():
			idx := sort.Search(len(subs), func(i int) bool { return subs[i].seq > m.inst.seq })
			r.actions[m.action] = slices.Insert(subs, idx, m.inst)
		case !m.subscribe && at >= 0:
			r.actions[m.action] = slices.Delete(subs, at, at+1)
		}
	}
}

// Dispatch drains the queue, then delivers ev to every live, enabled
// subscriber of action. Returns the number of handlers invoked.
func (r *InputRouter) Dispatch(action string, ev InputEvent) int {
	r.Drain()
	subs := r.actions[action]
	if len(subs) == 0 {
		return 0
	}

	invoked := 0
	anyDead := false
	for _, inst := range slices.Clone(subs) {
		if !inst.Alive() {
			anyDead = true
			continue
		}
		if !inst.Enabled() {
			continue
		}
		r.exec.call(FailureCallback, inst, action, func() error {
			return inst.vm.RunInput(action, ev)
		})
		invoked++
	}

	if anyDead {
		r.actions[action] = slices.DeleteFunc(r.actions[action], func(inst *Instance) bool {
			return !inst.Alive()
		})
	}
	return invoked
}

// Subscribers returns how many instances are subscribed to action.
func (r *InputRouter) Subscribers(action string) int { return len(r.actions[action]) }

func (r *InputRouter) Pending() int { return len(r.pending) }
