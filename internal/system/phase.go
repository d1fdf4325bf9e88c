package system

import (
	"time"

	coresys "github.com/vmhost/server/internal/core/system"
	"github.com/vmhost/server/internal/runtime"
)

// Ticker is the runtime entry point the phase systems drive.
type Ticker interface {
	Tick(phase runtime.Phase) int
}

// RuntimePhaseSystem runs one runtime phase registry inside a frame phase.
type RuntimePhaseSystem struct {
	rt    Ticker
	phase runtime.Phase
	frame coresys.Phase
	ran   int
}

func NewFixedUpdateSystem(rt Ticker) *RuntimePhaseSystem {
	return &RuntimePhaseSystem{rt: rt, phase: runtime.PhaseFixedUpdate, frame: coresys.PhaseFixedUpdate}
}

func NewUpdateSystem(rt Ticker) *RuntimePhaseSystem {
	return &RuntimePhaseSystem{rt: rt, phase: runtime.PhaseUpdate, frame: coresys.PhaseUpdate}
}

func NewLateUpdateSystem(rt Ticker) *RuntimePhaseSystem {
	return &RuntimePhaseSystem{rt: rt, phase: runtime.PhaseLateUpdate, frame: coresys.PhaseLateUpdate}
}

func (s *RuntimePhaseSystem) Phase() coresys.Phase { return s.frame }

func (s *RuntimePhaseSystem) Update(_ time.Duration) {
	s.ran = s.rt.Tick(s.phase)
}

// LastRun returns how many programs the most recent pass invoked.
func (s *RuntimePhaseSystem) LastRun() int { return s.ran }
