package scripting

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/vmhost/server/internal/data"
	"github.com/vmhost/server/internal/runtime"
	"github.com/vmhost/server/internal/sandbox"
	"go.uber.org/zap"
)

// Loader compiles scripts from a directory (cached per path) and turns
// program manifests into runtime instances bound to the host.
type Loader struct {
	dir     string
	mgr     *runtime.Manager
	host    Host
	timeout time.Duration
	cache   map[string]*Compiled
	log     *zap.Logger
}

func NewLoader(scriptsDir string, mgr *runtime.Manager, host Host, timeout time.Duration, log *zap.Logger) *Loader {
	return &Loader{
		dir:     scriptsDir,
		mgr:     mgr,
		host:    host,
		timeout: timeout,
		cache:   make(map[string]*Compiled),
		log:     log,
	}
}

// Load returns the compiled form of script, compiling it on first use.
func (l *Loader) Load(script string) (*Compiled, error) {
	if c, ok := l.cache[script]; ok {
		return c, nil
	}
	c, err := CompileFile(filepath.Join(l.dir, script))
	if err != nil {
		return nil, err
	}
	c.Name = script
	l.cache[script] = c
	l.log.Debug("compiled lua script", zap.String("script", script), zap.String("digest", c.Digest))
	return c, nil
}

// Attach creates the instance for pm on entity. The instance is not
// initialized or scheduled; container load or Manager.Register does that.
func (l *Loader) Attach(entity runtime.EntityRef, pm data.ProgramManifest) (*runtime.Instance, error) {
	code, err := l.Load(pm.Script)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", pm.Script, err)
	}

	prog := NewProgram(code, pm.Vars, l.mgr.ConstructExecutionContext, l.timeout, l.log)
	inst := l.mgr.NewInstance(entity, pm.UpdateOrder, prog)
	prog.Bind(&Binding{
		Host:   l.host,
		Filter: l.mgr.Filter(),
		Self:   sandbox.NewHandle(sandbox.ObjectID(entity.EntityID()), nil),
		SetEnabled: func(on bool) {
			l.mgr.SetInstanceEnabled(inst, on)
		},
	})
	inst.OnDestroy(func(*runtime.Instance) { prog.Close() })
	return inst, nil
}

// Cached returns how many scripts are compiled.
func (l *Loader) Cached() int { return len(l.cache) }
