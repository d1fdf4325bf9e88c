package runtime

import (
	"errors"
	"testing"

	"github.com/vmhost/server/internal/sandbox"
	"go.uber.org/zap/zaptest"
)

func TestManagerDisabledFailSafe(t *testing.T) {
	t.Parallel()

	var journal []string
	factory := &fakeFactory{}
	obs := &recordingObserver{}
	m := NewManager(factory, zaptest.NewLogger(t))
	m.SetObserver(obs)

	if !m.Enabled() {
		t.Fatalf("manager must start enabled")
	}
	ctx, err := m.ConstructExecutionContext()
	if err != nil || ctx == nil {
		t.Fatalf("ConstructExecutionContext while enabled: %v, %v", ctx, err)
	}

	m.SetEnabled(false)
	ctx, err = m.ConstructExecutionContext()
	if ctx != nil || !errors.Is(err, ErrDisabled) {
		t.Fatalf("ConstructExecutionContext while disabled = %v, %v", ctx, err)
	}
	if factory.built != 1 {
		t.Fatalf("factory consulted while disabled")
	}

	c := newFakeContainer("blocked")
	e := c.entity(1)
	inst := m.NewInstance(e, 0, newFakeProgram("p", &journal, "_update"))
	c.attach(e, inst)
	if n := m.LoadContainer(c, false); n != 0 {
		t.Fatalf("disabled load returned %d live programs", n)
	}
	if inst.Alive() || len(m.Directory().Instances(c.ID())) != 0 {
		t.Fatalf("disabled load left live state")
	}
	if obs.loads != 1 {
		t.Fatalf("observer not told about disabled load")
	}

	// Re-enabling is not retroactive.
	m.SetEnabled(true)
	if n := m.RunEvent("foo"); n != 0 {
		t.Fatalf("re-enable revived %d programs", n)
	}
}

func TestManagerDisableIsNonDestructive(t *testing.T) {
	t.Parallel()

	var journal []string
	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	c := newFakeContainer("live")
	e := c.entity(1)
	c.attach(e, m.NewInstance(e, 0, newFakeProgram("p", &journal, "_update")))
	m.LoadContainer(c, false)
	m.Tick(PhaseUpdate)

	m.SetEnabled(false)
	journal = journal[:0]
	if n := m.Tick(PhaseUpdate); n != 1 {
		t.Fatalf("disabling stopped a running program (invoked %d)", n)
	}
}

func TestManagerScenarioOrder(t *testing.T) {
	t.Parallel()

	var journal []string
	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	c := newFakeContainer("scenario")
	ea, eb, ec := c.entity(1), c.entity(2), c.entity(3)
	progB := newFakeProgram("B", &journal, "_update")
	a := m.NewInstance(ea, 10, newFakeProgram("A", &journal, "_update"))
	b := m.NewInstance(eb, 5, progB)
	cc := m.NewInstance(ec, 5, newFakeProgram("C", &journal, "_update"))
	c.attach(ea, a)
	c.attach(eb, b)
	c.attach(ec, cc)

	if n := m.LoadContainer(c, false); n != 3 {
		t.Fatalf("loaded %d, want 3", n)
	}
	m.Tick(PhaseUpdate)
	if m.Registry(PhaseUpdate).Len() != 3 {
		t.Fatalf("programs defining _update not scheduled")
	}
	if m.Registry(PhaseLateUpdate).Len() != 0 || m.Registry(PhaseLateUpdate).Pending() != 0 {
		t.Fatalf("program scheduled into a phase it does not define")
	}

	journal = journal[:0]
	m.Tick(PhaseUpdate)
	if want := []string{"B:_update", "C:_update", "A:_update"}; !equalStrings(journal, want) {
		t.Fatalf("order = %v, want %v", journal, want)
	}

	// B unregisters C from inside its callback: C still runs this pass only.
	progB.hook = func(string) {
		m.UnregisterPhase(cc, PhaseUpdate)
		progB.hook = nil
	}
	journal = journal[:0]
	m.Tick(PhaseUpdate)
	if want := []string{"B:_update", "C:_update", "A:_update"}; !equalStrings(journal, want) {
		t.Fatalf("same pass = %v, want %v", journal, want)
	}
	journal = journal[:0]
	m.Tick(PhaseUpdate)
	if want := []string{"B:_update", "A:_update"}; !equalStrings(journal, want) {
		t.Fatalf("next pass = %v, want %v", journal, want)
	}
}

func TestManagerInputVisibleAfterUpdate(t *testing.T) {
	t.Parallel()

	var journal []string
	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	c := newFakeContainer("input")
	e := c.entity(1)
	inst := m.NewInstance(e, 0, newFakeProgram("P", &journal, InputJump))
	c.attach(e, inst)
	m.LoadContainer(c, false)

	if m.Input().Pending() != 1 {
		t.Fatalf("input subscription not queued on load")
	}
	m.Tick(PhaseUpdate)
	if m.Input().Subscribers(InputJump) != 1 {
		t.Fatalf("Update tick did not drain the input queue")
	}

	journal = journal[:0]
	m.DispatchInput(InputJump, InputEvent{Kind: InputButton, Bool: true})
	if want := []string{"P:_inputJump=true"}; !equalStrings(journal, want) {
		t.Fatalf("input dispatch = %v", journal)
	}

	m.SetInstanceEnabled(inst, false)
	journal = journal[:0]
	m.DispatchInput(InputJump, InputEvent{Bool: true})
	if len(journal) != 0 || m.Input().Subscribers(InputJump) != 0 {
		t.Fatalf("disabled program still subscribed")
	}
}

func TestManagerRegisterAtRuntime(t *testing.T) {
	t.Parallel()

	var journal []string
	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	c := newFakeContainer("runtime")
	m.LoadContainer(c, false)

	e := c.entity(4)
	prog := newFakeProgram("spawned", &journal, "_lateUpdate")
	inst := m.NewInstance(e, 0, prog)
	if err := m.Register(inst); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if prog.inits != 1 || inst.Networked() {
		t.Fatalf("runtime registration: inits=%d networked=%v", prog.inits, inst.Networked())
	}
	m.Tick(PhaseLateUpdate)
	journal = journal[:0]
	m.Tick(PhaseLateUpdate)
	if want := []string{"spawned:_lateUpdate"}; !equalStrings(journal, want) {
		t.Fatalf("late update = %v", journal)
	}
	if n := m.RunEventOn(e, "hello", Var{Symbol: "x", Value: 1}); n != 1 {
		t.Fatalf("RunEventOn invoked %d", n)
	}
}

func TestManagerCurrentTracksCallback(t *testing.T) {
	t.Parallel()

	var journal []string
	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	prog := newFakeProgram("P", &journal, "_update")
	inst := m.NewInstance(nil, 0, prog)
	var seen *Instance
	prog.hook = func(string) { seen = m.Current() }
	m.RegisterPhase(inst, PhaseUpdate)
	m.Tick(PhaseUpdate)
	m.Tick(PhaseUpdate)

	if seen != inst {
		t.Fatalf("Current inside callback = %v, want %v", seen, inst)
	}
	if m.Current() != nil {
		t.Fatalf("Current outside callback = %v", m.Current())
	}
}

func TestManagerBlacklist(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	x := sandbox.NewHandle(42, nil)
	m.BlacklistAll([]sandbox.Handle{x})
	if !m.IsBlacklisted(x) {
		t.Fatalf("IsBlacklisted = false")
	}
	h := x
	if !m.FilterBlacklisted(&h) || !h.IsNil() {
		t.Fatalf("blacklisted handle not filtered")
	}
	m.ClearBlacklist()
	if m.IsBlacklisted(x) {
		t.Fatalf("ClearBlacklist kept entry")
	}
}

func TestManagerSequenceIsMonotonic(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	var prev uint64
	for i := 0; i < 5; i++ {
		inst := m.NewInstance(nil, 0, nil)
		if inst.Seq() <= prev {
			t.Fatalf("seq %d not above %d", inst.Seq(), prev)
		}
		prev = inst.Seq()
	}
}

func TestManagerIgnoresUnknownPhase(t *testing.T) {
	t.Parallel()

	var journal []string
	m := NewManager(&fakeFactory{}, zaptest.NewLogger(t))
	inst := m.NewInstance(nil, 0, newFakeProgram("p", &journal, "_update"))

	for _, ph := range []Phase{-1, phaseCount, phaseCount + 3} {
		m.RegisterPhase(inst, ph)
		m.UnregisterPhase(inst, ph)
		if m.Registry(ph) != nil {
			t.Errorf("Registry(%d) should be nil", ph)
		}
		if n := m.Tick(ph); n != 0 {
			t.Errorf("Tick(%d) = %d", ph, n)
		}
	}

	m.RegisterPhase(inst, PhaseUpdate)
	m.Tick(PhaseUpdate)
	if !m.Registry(PhaseUpdate).Contains(inst) {
		t.Fatalf("valid phase registration lost")
	}
}
