package system

import "time"

// Phase defines execution ordering within a single host frame.
type Phase int

const (
	PhaseFixedUpdate Phase = iota // 0: fixed-step simulation, 0..n times per frame
	PhaseUpdate                   // 1: program _update pass
	PhaseInput                    // 2: drain input feed, dispatch actions
	PhaseLateUpdate               // 3: program _lateUpdate pass
	PhasePersist                  // 4: journal flush
	PhaseCleanup                  // 5: destroy queued entities
)

func (p Phase) String() string {
	switch p {
	case PhaseFixedUpdate:
		return "FixedUpdate"
	case PhaseUpdate:
		return "Update"
	case PhaseInput:
		return "Input"
	case PhaseLateUpdate:
		return "LateUpdate"
	case PhasePersist:
		return "Persist"
	case PhaseCleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// System is the interface every frame system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
