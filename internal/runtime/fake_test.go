package runtime

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmhost/server/internal/core/ecs"
)

type fakeEntity struct {
	id        ecs.EntityID
	container uuid.UUID
	dead      bool
}

func (e *fakeEntity) EntityID() ecs.EntityID { return e.id }
func (e *fakeEntity) ContainerID() uuid.UUID { return e.container }
func (e *fakeEntity) Alive() bool            { return !e.dead }

// fakeProgram records every callback into a shared journal and runs an
// optional hook so tests can mutate the runtime from inside a callback.
type fakeProgram struct {
	name    string
	events  map[string]bool
	journal *[]string
	hook    func(callback string)
	failOn  string
	panicOn string
	inits   int
	lastVar []Var
}

func newFakeProgram(name string, journal *[]string, events ...string) *fakeProgram {
	p := &fakeProgram{name: name, events: make(map[string]bool), journal: journal}
	for _, ev := range events {
		p.events[ev] = true
	}
	return p
}

func (p *fakeProgram) Name() string { return p.name }

func (p *fakeProgram) Has(event string) bool { return p.events[event] }

func (p *fakeProgram) record(callback string) error {
	*p.journal = append(*p.journal, p.name+":"+callback)
	if p.hook != nil {
		p.hook(callback)
	}
	if callback == p.panicOn {
		panic("boom")
	}
	if callback == p.failOn {
		return errors.New("scripted failure")
	}
	return nil
}

func (p *fakeProgram) Initialize() error {
	p.inits++
	return p.record("init")
}

func (p *fakeProgram) RunPhase(ph Phase) error { return p.record(ph.EventName()) }

func (p *fakeProgram) RunEvent(name string, vars []Var) error {
	p.lastVar = vars
	return p.record(name)
}

func (p *fakeProgram) RunInput(action string, ev InputEvent) error {
	return p.record(fmt.Sprintf("%s=%v", action, ev.Bool))
}

type fakeContainer struct {
	id       uuid.UUID
	name     string
	entities []*fakeEntity
	attached map[ecs.EntityID][]*Instance
}

func newFakeContainer(name string) *fakeContainer {
	return &fakeContainer{id: uuid.New(), name: name, attached: make(map[ecs.EntityID][]*Instance)}
}

func (c *fakeContainer) ID() uuid.UUID { return c.id }
func (c *fakeContainer) Name() string  { return c.name }

func (c *fakeContainer) Walk(fn func(EntityRef, []*Instance)) {
	for _, e := range c.entities {
		fn(e, c.attached[e.id])
	}
}

func (c *fakeContainer) entity(id ecs.EntityID) *fakeEntity {
	e := &fakeEntity{id: id, container: c.id}
	c.entities = append(c.entities, e)
	return e
}

func (c *fakeContainer) attach(e *fakeEntity, inst *Instance) {
	c.attached[e.id] = append(c.attached[e.id], inst)
}

type fakeFactory struct{ built int }

type fakeContext struct{ closed bool }

func (c *fakeContext) Close() { c.closed = true }

func (f *fakeFactory) NewContext() (ExecutionContext, error) {
	f.built++
	return &fakeContext{}, nil
}

type recordingObserver struct {
	loads    int
	unloads  int
	failures []Failure
}

func (o *recordingObserver) ContainerLoaded(Container, bool, bool, int) { o.loads++ }
func (o *recordingObserver) ContainerUnloaded(uuid.UUID)                { o.unloads++ }
func (o *recordingObserver) ProgramFailed(f Failure)                    { o.failures = append(o.failures, f) }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
