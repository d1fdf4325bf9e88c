package runtime

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailureKind classifies an isolated program failure.
type FailureKind int

const (
	FailureInitialize FailureKind = iota // container load or runtime registration
	FailureCallback                      // phase, event or input callback
)

func (k FailureKind) String() string {
	if k == FailureInitialize {
		return "initialize"
	}
	return "callback"
}

// Failure describes one contained program failure.
type Failure struct {
	Kind     FailureKind
	Instance *Instance
	Callback string
	Err      error
}

// executor runs program callbacks one at a time, tracks which instance is
// executing, and turns errors and panics into logged, reported failures.
type executor struct {
	log     *zap.Logger
	current *Instance
	report  func(Failure)
}

func newExecutor(log *zap.Logger) *executor {
	return &executor{log: log}
}

func (x *executor) call(kind FailureKind, inst *Instance, callback string, fn func() error) (err error) {
	prev := x.current
	x.current = inst
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", callback, rec)
		}
		x.current = prev
		if err != nil {
			x.fail(Failure{Kind: kind, Instance: inst, Callback: callback, Err: err})
		}
	}()
	return fn()
}

func (x *executor) fail(f Failure) {
	fields := []zap.Field{
		zap.String("kind", f.Kind.String()),
		zap.String("callback", f.Callback),
		zap.Uint64("seq", f.Instance.Seq()),
		zap.String("program", f.Instance.programName()),
		zap.Error(f.Err),
	}
	if e := f.Instance.Entity(); e != nil {
		fields = append(fields, zap.Stringer("entity", e.EntityID()))
	}
	x.log.Error("program failure isolated", fields...)
	if x.report != nil {
		x.report(f)
	}
}

// ContainerID returns the container of the failing instance's entity.
func (f Failure) ContainerID() uuid.UUID {
	if e := f.Instance.Entity(); e != nil {
		return e.ContainerID()
	}
	return uuid.Nil
}
