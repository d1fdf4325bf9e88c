package system

import (
	"time"

	coresys "github.com/vmhost/server/internal/core/system"
)

// Flusher applies deferred destruction.
type Flusher interface {
	Flush() int
}

// CleanupSystem flushes the deferred entity destruction queue at tick end.
// Destroyed entities take their programs with them; registries sweep the
// dead instances on their next pass.
type CleanupSystem struct {
	world Flusher
}

func NewCleanupSystem(world Flusher) *CleanupSystem {
	return &CleanupSystem{world: world}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.world.Flush()
}
