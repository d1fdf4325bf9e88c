package system

import (
	"sort"
	"time"
)

// Runner executes systems in phase order each frame. FixedUpdate systems run
// on a fixed-step accumulator: zero or more times per frame depending on how
// much wall time the frame covered.
type Runner struct {
	systems  []System
	sorted   bool
	step     time.Duration
	maxSteps int
	acc      time.Duration
}

func NewRunner(fixedStep time.Duration, maxSteps int) *Runner {
	if maxSteps <= 0 {
		maxSteps = 1
	}
	return &Runner{
		systems:  make([]System, 0, 16),
		step:     fixedStep,
		maxSteps: maxSteps,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Tick runs one host frame covering dt of wall time. Returns the number of
// fixed steps executed.
func (r *Runner) Tick(dt time.Duration) int {
	r.ensureSorted()

	steps := 0
	if r.step > 0 {
		r.acc += dt
		for r.acc >= r.step && steps < r.maxSteps {
			r.TickPhase(PhaseFixedUpdate, r.step)
			r.acc -= r.step
			steps++
		}
		// Drop the backlog instead of spiralling when the host falls behind.
		if steps == r.maxSteps && r.acc >= r.step {
			r.acc = 0
		}
	}

	for _, s := range r.systems {
		if s.Phase() != PhaseFixedUpdate {
			s.Update(dt)
		}
	}
	return steps
}

// TickPhase runs only the systems registered for phase.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(dt)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
