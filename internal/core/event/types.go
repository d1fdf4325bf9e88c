package event

import (
	"time"

	"github.com/google/uuid"
)

// ContainerLoaded is emitted after a container load pass, whether or not the
// runtime was enabled at the time.
type ContainerLoaded struct {
	ContainerID uuid.UUID
	Name        string
	Additive    bool
	Enabled     bool
	Programs    int
	At          time.Time
}

type ContainerUnloaded struct {
	ContainerID uuid.UUID
	At          time.Time
}

// ProgramFailed reports an isolated initialize, phase, event or input failure.
type ProgramFailed struct {
	ContainerID uuid.UUID
	Entity      uint64
	Seq         uint64
	Program     string
	Digest      string
	Kind        string // "initialize" or "callback"
	Callback    string
	Error       string
	At          time.Time
}
