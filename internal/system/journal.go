package system

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vmhost/server/internal/core/event"
	coresys "github.com/vmhost/server/internal/core/system"
	"github.com/vmhost/server/internal/persist"
	"github.com/vmhost/server/internal/runtime"
	"go.uber.org/zap"
)

// BusObserver publishes runtime lifecycle notifications on the event bus.
type BusObserver struct {
	bus *event.Bus
	now func() time.Time
}

func NewBusObserver(bus *event.Bus) *BusObserver {
	return &BusObserver{bus: bus, now: time.Now}
}

// digester is implemented by behaviours that know their source digest.
type digester interface {
	Digest() string
}

func (o *BusObserver) ContainerLoaded(c runtime.Container, additive, enabled bool, programs int) {
	event.Emit(o.bus, event.ContainerLoaded{
		ContainerID: c.ID(),
		Name:        c.Name(),
		Additive:    additive,
		Enabled:     enabled,
		Programs:    programs,
		At:          o.now(),
	})
}

func (o *BusObserver) ContainerUnloaded(id uuid.UUID) {
	event.Emit(o.bus, event.ContainerUnloaded{ContainerID: id, At: o.now()})
}

func (o *BusObserver) ProgramFailed(f runtime.Failure) {
	ev := event.ProgramFailed{
		ContainerID: f.ContainerID(),
		Seq:         f.Instance.Seq(),
		Kind:        f.Kind.String(),
		Callback:    f.Callback,
		At:          o.now(),
	}
	if e := f.Instance.Entity(); e != nil {
		ev.Entity = uint64(e.EntityID())
	}
	if vm := f.Instance.Behaviour(); vm != nil {
		ev.Program = vm.Name()
		if d, ok := vm.(digester); ok {
			ev.Digest = d.Digest()
		}
	}
	if f.Err != nil {
		ev.Error = f.Err.Error()
	}
	event.Emit(o.bus, ev)
}

// JournalSystem flushes the event bus once per frame and writes the
// journal records it collected. With a nil journal records are counted and
// dropped. Phase 5 (Persist).
type JournalSystem struct {
	bus      *event.Bus
	journal  persist.Journal
	maxBatch int
	timeout  time.Duration
	log      *zap.Logger

	loads    []persist.LoadRecord
	unloads  []persist.UnloadRecord
	failures []persist.FailureRecord
	written  int
	dropped  int
}

func NewJournalSystem(bus *event.Bus, journal persist.Journal, maxBatch int, log *zap.Logger) *JournalSystem {
	s := &JournalSystem{
		bus:      bus,
		journal:  journal,
		maxBatch: maxBatch,
		timeout:  5 * time.Second,
		log:      log,
	}
	event.Subscribe(bus, func(e event.ContainerLoaded) {
		s.loads = append(s.loads, persist.LoadRecord{
			ContainerID: e.ContainerID,
			Name:        e.Name,
			Additive:    e.Additive,
			Enabled:     e.Enabled,
			Programs:    e.Programs,
			At:          e.At,
		})
	})
	event.Subscribe(bus, func(e event.ContainerUnloaded) {
		s.unloads = append(s.unloads, persist.UnloadRecord{ContainerID: e.ContainerID, At: e.At})
	})
	event.Subscribe(bus, func(e event.ProgramFailed) {
		s.failures = append(s.failures, persist.FailureRecord{
			ContainerID: e.ContainerID,
			Entity:      e.Entity,
			Seq:         e.Seq,
			Program:     e.Program,
			Digest:      e.Digest,
			Kind:        e.Kind,
			Callback:    e.Callback,
			Error:       e.Error,
			At:          e.At,
		})
	})
	return s
}

func (s *JournalSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *JournalSystem) Update(_ time.Duration) {
	s.bus.Flush()
	s.write()
}

// Written and Dropped count journal records since start.
func (s *JournalSystem) Written() int { return s.written }
func (s *JournalSystem) Dropped() int { return s.dropped }

func (s *JournalSystem) pending() int {
	return len(s.loads) + len(s.unloads) + len(s.failures)
}

func (s *JournalSystem) write() {
	n := s.pending()
	if n == 0 {
		return
	}
	if s.journal == nil {
		s.dropped += n
		s.reset()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.journal.Write(ctx, s.loads, s.unloads, s.failures); err != nil {
		// Keep the batch for the next frame unless it has grown too large.
		if s.maxBatch > 0 && n >= s.maxBatch {
			s.log.Error("journal write failed, dropping batch", zap.Int("records", n), zap.Error(err))
			s.dropped += n
			s.reset()
			return
		}
		s.log.Warn("journal write failed, retrying next frame", zap.Int("records", n), zap.Error(err))
		return
	}
	s.written += n
	s.reset()
}

func (s *JournalSystem) reset() {
	s.loads, s.unloads, s.failures = nil, nil, nil
}
