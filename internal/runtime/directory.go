package runtime

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/vmhost/server/internal/core/ecs"
	"go.uber.org/zap"
)

// Container is a loadable grouping of host entities, such as a scene.
type Container interface {
	ID() uuid.UUID
	Name() string
	// Walk visits every entity in the container, inactive ones included,
	// together with the instances attached to it.
	Walk(fn func(entity EntityRef, instances []*Instance))
}

type entitySet struct {
	entity    EntityRef
	instances []*Instance // sorted by Seq
}

func (s *entitySet) add(inst *Instance) bool {
	if slices.Contains(s.instances, inst) {
		return false
	}
	idx := sort.Search(len(s.instances), func(i int) bool { return s.instances[i].seq > inst.seq })
	s.instances = slices.Insert(s.instances, idx, inst)
	return true
}

func (s *entitySet) remove(inst *Instance) {
	if idx := slices.Index(s.instances, inst); idx >= 0 {
		s.instances = slices.Delete(s.instances, idx, idx+1)
	}
}

type containerDir struct {
	id       uuid.UUID
	name     string
	entities map[ecs.EntityID]*entitySet
	order    []ecs.EntityID // first-seen order
}

func newContainerDir(id uuid.UUID, name string) *containerDir {
	return &containerDir{
		id:       id,
		name:     name,
		entities: make(map[ecs.EntityID]*entitySet),
	}
}

func (c *containerDir) add(entity EntityRef, inst *Instance) bool {
	id := entity.EntityID()
	set, ok := c.entities[id]
	if !ok {
		set = &entitySet{entity: entity}
		c.entities[id] = set
		c.order = append(c.order, id)
	}
	return set.add(inst)
}

func (c *containerDir) remove(inst *Instance) {
	for _, id := range c.order {
		set := c.entities[id]
		if slices.Contains(set.instances, inst) {
			set.remove(inst)
			if len(set.instances) == 0 {
				c.dropEntity(id)
			}
			return
		}
	}
}

func (c *containerDir) dropEntity(id ecs.EntityID) {
	delete(c.entities, id)
	if idx := slices.Index(c.order, id); idx >= 0 {
		c.order = slices.Delete(c.order, idx, idx+1)
	}
}

// prune drops dead instances and the entities left empty by them.
func (c *containerDir) prune() {
	for _, id := range slices.Clone(c.order) {
		set := c.entities[id]
		set.instances = slices.DeleteFunc(set.instances, func(inst *Instance) bool { return !inst.Alive() })
		if len(set.instances) == 0 {
			c.dropEntity(id)
		}
	}
}

// all snapshots every indexed instance in dispatch order.
func (c *containerDir) all() []*Instance {
	var out []*Instance
	for _, id := range c.order {
		out = append(out, c.entities[id].instances...)
	}
	return out
}

// Directory maps container → entity → instances for named-event dispatch.
type Directory struct {
	containers map[uuid.UUID]*containerDir
	order      []uuid.UUID // load order
	exec       *executor
	log        *zap.Logger
}

func NewDirectory(log *zap.Logger) *Directory {
	return newDirectory(newExecutor(log), log)
}

func newDirectory(exec *executor, log *zap.Logger) *Directory {
	return &Directory{
		containers: make(map[uuid.UUID]*containerDir),
		exec:       exec,
		log:        log,
	}
}

// Load indexes c and initializes each discovered instance once. A non-additive
// load forgets every previously loaded container first. When enabled is false
// every discovered instance is destroyed and nothing is recorded. Returns the
// instances that initialized successfully.
func (d *Directory) Load(c Container, additive, enabled bool) []*Instance {
	if !additive {
		d.reset()
	}

	dir := newContainerDir(c.ID(), c.Name())
	c.Walk(func(entity EntityRef, instances []*Instance) {
		for _, inst := range instances {
			if inst.Alive() {
				dir.add(entity, inst)
			}
		}
	})

	if !enabled {
		d.log.Warn("runtime disabled globally, destroying programs in container",
			zap.String("container", c.Name()),
			zap.Int("entities", len(dir.order)),
		)
		for _, inst := range dir.all() {
			inst.Destroy()
		}
		return nil
	}

	d.store(dir)

	targets := dir.all()
	loaded := make([]*Instance, 0, len(targets))
	var failed []*Instance
	for _, inst := range targets {
		inst.networked = true
		if err := d.initialize(inst); err != nil {
			failed = append(failed, inst)
			continue
		}
		loaded = append(loaded, inst)
	}
	for _, inst := range failed {
		dir.remove(inst)
	}

	d.log.Info("container loaded",
		zap.String("container", c.Name()),
		zap.Stringer("id", c.ID()),
		zap.Bool("additive", additive),
		zap.Int("programs", len(loaded)),
		zap.Int("failed", len(failed)),
	)
	return loaded
}

func (d *Directory) store(dir *containerDir) {
	if _, ok := d.containers[dir.id]; ok {
		d.order = slices.DeleteFunc(d.order, func(id uuid.UUID) bool { return id == dir.id })
	}
	d.containers[dir.id] = dir
	d.order = append(d.order, dir.id)
}

func (d *Directory) reset() {
	clear(d.containers)
	d.order = d.order[:0]
}

func (d *Directory) initialize(inst *Instance) error {
	return d.exec.call(FailureInitialize, inst, "initialize", inst.vm.Initialize)
}

// Unload forgets a container. Its instances become unreachable from dispatch.
func (d *Directory) Unload(id uuid.UUID) bool {
	if _, ok := d.containers[id]; !ok {
		return false
	}
	delete(d.containers, id)
	d.order = slices.DeleteFunc(d.order, func(c uuid.UUID) bool { return c == id })
	return true
}

// Register indexes an instance attached after its container loaded and
// initializes it immediately.
func (d *Directory) Register(inst *Instance) error {
	if inst == nil || inst.entity == nil {
		return errors.New("register: instance has no owning entity")
	}
	if !inst.Alive() {
		return errors.New("register: instance is not alive")
	}
	cid := inst.entity.ContainerID()
	dir, ok := d.containers[cid]
	if !ok {
		dir = newContainerDir(cid, "")
		d.containers[cid] = dir
		d.order = append(d.order, cid)
	}
	dir.add(inst.entity, inst)

	if err := d.initialize(inst); err != nil {
		dir.remove(inst)
		return fmt.Errorf("initialize program %s: %w", inst.programName(), err)
	}
	return nil
}

// DispatchAll runs the named event on every live instance of every loaded
// container. Returns the number of instances invoked.
func (d *Directory) DispatchAll(name string, vars []Var) int {
	var targets []*Instance
	for _, id := range d.order {
		targets = append(targets, d.containers[id].all()...)
	}
	n := d.dispatch(targets, name, vars)
	for _, id := range slices.Clone(d.order) {
		if dir, ok := d.containers[id]; ok {
			dir.prune()
		}
	}
	return n
}

// DispatchEntity runs the named event on the instances attached to entity.
func (d *Directory) DispatchEntity(entity EntityRef, name string, vars []Var) int {
	if entity == nil {
		return 0
	}
	dir, ok := d.containers[entity.ContainerID()]
	if !ok {
		return 0
	}
	set, ok := dir.entities[entity.EntityID()]
	if !ok {
		return 0
	}
	n := d.dispatch(slices.Clone(set.instances), name, vars)
	if dir, ok := d.containers[entity.ContainerID()]; ok {
		dir.prune()
	}
	return n
}

func (d *Directory) dispatch(targets []*Instance, name string, vars []Var) int {
	n := 0
	for _, inst := range targets {
		// An earlier callback may have destroyed this one.
		if !inst.Alive() {
			continue
		}
		d.exec.call(FailureCallback, inst, name, func() error {
			return inst.vm.RunEvent(name, vars)
		})
		n++
	}
	return n
}

// Containers returns loaded container ids in load order.
func (d *Directory) Containers() []uuid.UUID { return slices.Clone(d.order) }

// Instances returns the indexed instances of a container.
func (d *Directory) Instances(id uuid.UUID) []*Instance {
	dir, ok := d.containers[id]
	if !ok {
		return nil
	}
	return dir.all()
}

// Has reports whether entity is indexed under container id.
func (d *Directory) Has(id uuid.UUID, entity ecs.EntityID) bool {
	dir, ok := d.containers[id]
	if !ok {
		return false
	}
	_, ok = dir.entities[entity]
	return ok
}
