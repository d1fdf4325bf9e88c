package system

import (
	"context"
	"errors"
	gonet "net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vmhost/server/internal/core/ecs"
	"github.com/vmhost/server/internal/core/event"
	coresys "github.com/vmhost/server/internal/core/system"
	"github.com/vmhost/server/internal/handler"
	"github.com/vmhost/server/internal/net"
	"github.com/vmhost/server/internal/net/packet"
	"github.com/vmhost/server/internal/persist"
	"github.com/vmhost/server/internal/runtime"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type ref struct {
	id    ecs.EntityID
	scene uuid.UUID
}

func (r ref) EntityID() ecs.EntityID  { return r.id }
func (r ref) ContainerID() uuid.UUID { return r.scene }
func (r ref) Alive() bool            { return true }

// recorder defines every phase callback and _inputJump.
type recorder struct {
	log *[]string
}

func (p *recorder) Initialize() error { return nil }
func (p *recorder) Name() string      { return "recorder.lua" }
func (p *recorder) Digest() string    { return "abc123" }

func (p *recorder) Has(event string) bool {
	switch event {
	case "_update", "_lateUpdate", "_fixedUpdate", "_inputJump":
		return true
	}
	return false
}

func (p *recorder) RunPhase(ph runtime.Phase) error {
	*p.log = append(*p.log, ph.EventName())
	return nil
}

func (p *recorder) RunEvent(name string, _ []runtime.Var) error {
	*p.log = append(*p.log, name)
	return nil
}

func (p *recorder) RunInput(action string, ev runtime.InputEvent) error {
	if ev.Bool {
		*p.log = append(*p.log, action+":down")
	} else {
		*p.log = append(*p.log, action+":up")
	}
	return nil
}

func newRecorded(t *testing.T) (*runtime.Manager, *[]string) {
	t.Helper()
	mgr := runtime.NewManager(nil, zaptest.NewLogger(t))
	log := &[]string{}
	inst := mgr.NewInstance(ref{id: ecs.NewEntityID(1, 0), scene: uuid.New()}, 0, &recorder{log: log})
	if err := mgr.Register(inst); err != nil {
		t.Fatal(err)
	}
	return mgr, log
}

func TestFramePhaseOrder(t *testing.T) {
	t.Parallel()
	mgr, log := newRecorded(t)

	runner := coresys.NewRunner(10*time.Millisecond, 4)
	// Registered out of order on purpose; the runner sorts by phase.
	late := NewLateUpdateSystem(mgr)
	runner.Register(late)
	runner.Register(NewUpdateSystem(mgr))
	runner.Register(NewFixedUpdateSystem(mgr))

	runner.Tick(10 * time.Millisecond) // drains registrations
	if len(*log) != 0 {
		t.Fatalf("registration visible before the next pass: %v", *log)
	}

	runner.Tick(25 * time.Millisecond)
	want := []string{"_fixedUpdate", "_fixedUpdate", "_update", "_lateUpdate"}
	if len(*log) != len(want) {
		t.Fatalf("log = %v", *log)
	}
	for i := range want {
		if (*log)[i] != want[i] {
			t.Errorf("log = %v, want %v", *log, want)
			break
		}
	}
	if late.LastRun() != 1 {
		t.Errorf("late LastRun = %d", late.LastRun())
	}
}

func authFrame(token string) []byte {
	w := packet.NewWriterWithOpcode(packet.C_AUTH, nil)
	w.WriteS(token)
	w.WriteS("bench")
	return w.Bytes()
}

func newInputSystem(t *testing.T, mgr *runtime.Manager) *InputSystem {
	t.Helper()
	log := zaptest.NewLogger(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("token"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	deps := &handler.Deps{Runtime: mgr, TokenHash: hash, Log: log}
	reg := packet.NewRegistry(nil, log)
	handler.RegisterAll(reg, deps)
	return NewInputSystem(nil, reg, deps, 8, log)
}

func newSession(t *testing.T, id uint64) *net.Session {
	t.Helper()
	a, b := gonet.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return net.NewSession(a, id, net.SessionOptions{InQueueSize: 8, OutQueueSize: 8}, zaptest.NewLogger(t))
}

func TestInputSystemDispatchesFeed(t *testing.T) {
	t.Parallel()
	mgr, log := newRecorded(t)
	input := newInputSystem(t, mgr)

	sess := newSession(t, 1)
	input.Add(sess)
	sess.InQueue <- authFrame("token")
	w := packet.NewWriterWithOpcode(packet.C_BUTTON, nil)
	w.WriteS("_inputJump")
	w.WriteC(1)
	w.WriteC(0)
	sess.InQueue <- w.Bytes()

	input.Update(0)
	if len(*log) != 1 || (*log)[0] != "_inputJump:down" {
		t.Errorf("log = %v", *log)
	}
	// hello, auth ok, delivery
	if got := len(sess.OutQueue); got != 3 {
		t.Errorf("queued replies = %d", got)
	}
	if input.Sessions() != 1 {
		t.Errorf("sessions = %d", input.Sessions())
	}
}

func TestInputSystemDropsRejectedFeed(t *testing.T) {
	t.Parallel()
	mgr, _ := newRecorded(t)
	input := newInputSystem(t, mgr)

	sess := newSession(t, 2)
	input.Add(sess)
	sess.InQueue <- authFrame("wrong")
	input.Update(0)
	if sess.IsClosed() {
		t.Fatal("closed before the rejection was written")
	}

	for len(sess.OutQueue) > 0 {
		<-sess.OutQueue
	}
	input.Update(0)
	if !sess.IsClosed() || input.Sessions() != 0 {
		t.Errorf("closed = %v sessions = %d", sess.IsClosed(), input.Sessions())
	}
}

type fakeJournal struct {
	fail     int
	failures []persist.FailureRecord
	loads    []persist.LoadRecord
	unloads  []persist.UnloadRecord
}

func (j *fakeJournal) Write(_ context.Context, loads []persist.LoadRecord, unloads []persist.UnloadRecord, failures []persist.FailureRecord) error {
	if j.fail > 0 {
		j.fail--
		return errors.New("db down")
	}
	j.loads = append(j.loads, loads...)
	j.unloads = append(j.unloads, unloads...)
	j.failures = append(j.failures, failures...)
	return nil
}

type container struct{ id uuid.UUID }

func (c container) ID() uuid.UUID                                     { return c.id }
func (c container) Name() string                                      { return "lobby" }
func (c container) Walk(func(runtime.EntityRef, []*runtime.Instance)) {}

func TestJournalSystem(t *testing.T) {
	t.Parallel()
	bus := event.NewBus()
	obs := NewBusObserver(bus)
	j := &fakeJournal{fail: 1}
	sys := NewJournalSystem(bus, j, 100, zaptest.NewLogger(t))

	scene := uuid.New()
	inst := runtime.NewInstance(7, ref{id: ecs.NewEntityID(3, 2), scene: scene}, 0, &recorder{log: &[]string{}})
	obs.ContainerLoaded(container{id: scene}, true, true, 1)
	obs.ProgramFailed(runtime.Failure{Kind: runtime.FailureCallback, Instance: inst, Callback: "_update", Err: errors.New("boom")})
	obs.ContainerUnloaded(scene)

	sys.Update(0) // write fails, batch kept
	if sys.Written() != 0 || sys.Dropped() != 0 {
		t.Fatalf("written = %d dropped = %d", sys.Written(), sys.Dropped())
	}
	sys.Update(0)
	if sys.Written() != 3 {
		t.Fatalf("written = %d", sys.Written())
	}

	if len(j.loads) != 1 || j.loads[0].Name != "lobby" || !j.loads[0].Additive {
		t.Errorf("loads = %+v", j.loads)
	}
	if len(j.unloads) != 1 || j.unloads[0].ContainerID != scene {
		t.Errorf("unloads = %+v", j.unloads)
	}
	f := j.failures[0]
	if f.ContainerID != scene || f.Seq != 7 || f.Entity != uint64(ecs.NewEntityID(3, 2)) ||
		f.Program != "recorder.lua" || f.Digest != "abc123" || f.Kind != "callback" || f.Error != "boom" {
		t.Errorf("failure = %+v", f)
	}
}

func TestJournalSystemWithoutDatabase(t *testing.T) {
	t.Parallel()
	bus := event.NewBus()
	sys := NewJournalSystem(bus, nil, 0, zaptest.NewLogger(t))
	NewBusObserver(bus).ContainerUnloaded(uuid.New())

	sys.Update(0)
	if sys.Dropped() != 1 || sys.Written() != 0 {
		t.Errorf("written = %d dropped = %d", sys.Written(), sys.Dropped())
	}
}

type countingFlusher struct{ calls int }

func (f *countingFlusher) Flush() int {
	f.calls++
	return 0
}

func TestCleanupSystem(t *testing.T) {
	t.Parallel()
	f := &countingFlusher{}
	s := NewCleanupSystem(f)
	if s.Phase() != coresys.PhaseCleanup {
		t.Errorf("phase = %v", s.Phase())
	}
	s.Update(0)
	if f.calls != 1 {
		t.Errorf("flushes = %d", f.calls)
	}
}
