package world

import (
	"github.com/google/uuid"
	"github.com/vmhost/server/internal/core/ecs"
	"github.com/vmhost/server/internal/data"
	"github.com/vmhost/server/internal/runtime"
	"go.uber.org/zap"
)

// Node places an entity in the host object graph.
type Node struct {
	Name     string
	Path     string // slash-separated path inside its scene
	Scene    uuid.UUID
	Parent   ecs.EntityID
	Children []ecs.EntityID
	Inactive bool
	Asset    bool
}

// Attachment lists the program instances attached to an entity.
type Attachment struct {
	Instances []*runtime.Instance
}

// Runtime is the slice of the runtime manager the world drives.
type Runtime interface {
	LoadContainer(c runtime.Container, additive bool) int
	UnloadContainer(id uuid.UUID)
	Register(inst *runtime.Instance) error
	RunEventOn(entity runtime.EntityRef, name string, vars ...runtime.Var) int
}

// Attacher turns a program manifest into an instance bound to entity.
type Attacher interface {
	Attach(entity runtime.EntityRef, pm data.ProgramManifest) (*runtime.Instance, error)
}

// State is the in-memory host: scenes, their entity trees, and the assets
// programs can look up. Single-goroutine access only (tick loop).
type State struct {
	ecs      *ecs.World
	nodes    *ecs.PtrComponentStore[Node]
	attached *ecs.PtrComponentStore[Attachment]

	scenes map[uuid.UUID]*Scene
	order  []uuid.UUID // load order
	assets map[string]ecs.EntityID

	rt  Runtime
	log *zap.Logger
}

func NewState(rt Runtime, log *zap.Logger) *State {
	s := &State{
		ecs:      ecs.NewWorld(),
		nodes:    ecs.NewPtrComponentStore[Node](),
		attached: ecs.NewPtrComponentStore[Attachment](),
		scenes:   make(map[uuid.UUID]*Scene),
		assets:   make(map[string]ecs.EntityID),
		rt:       rt,
		log:      log,
	}
	s.ecs.Registry().Register(s.nodes)
	s.ecs.Registry().Register(s.attached)
	s.ecs.OnDestroy(s.release)
	return s
}

// Ref returns a weak reference to id.
func (s *State) Ref(id ecs.EntityID) *Ref {
	var scene uuid.UUID
	if n, ok := s.nodes.Get(id); ok {
		scene = n.Scene
	}
	return &Ref{state: s, id: id, scene: scene}
}

func (s *State) Alive(id ecs.EntityID) bool { return s.ecs.Alive(id) }

// Node returns the graph node of a live entity.
func (s *State) Node(id ecs.EntityID) (*Node, bool) {
	if !s.ecs.Alive(id) {
		return nil, false
	}
	return s.nodes.Get(id)
}

// Instances returns the programs attached to id.
func (s *State) Instances(id ecs.EntityID) []*runtime.Instance {
	if a, ok := s.attached.Get(id); ok {
		return a.Instances
	}
	return nil
}

// Entities returns the number of live entities, assets included.
func (s *State) Entities() int { return s.ecs.Pool().Len() }

// Destroy queues id and its subtree for destruction at the next Flush.
func (s *State) Destroy(id ecs.EntityID) {
	if s.ecs.Alive(id) {
		s.ecs.MarkForDestruction(id)
	}
}

// Pending returns the number of entities queued for destruction.
func (s *State) Pending() int { return s.ecs.Pending() }

// Flush destroys every queued entity. Attached instances are destroyed with
// their entity; registries holding them sweep them on their next pass.
func (s *State) Flush() int {
	n := s.ecs.FlushDestroyQueue()
	if n > 0 {
		s.log.Debug("entities destroyed", zap.Int("count", n))
	}
	return n
}

// release runs inside the flush for each destroyed entity.
func (s *State) release(id ecs.EntityID) {
	if a, ok := s.attached.Get(id); ok {
		for _, inst := range a.Instances {
			inst.Destroy()
		}
	}
	n, ok := s.nodes.Get(id)
	if !ok {
		return
	}
	for _, child := range n.Children {
		s.ecs.MarkForDestruction(child)
	}
	if n.Asset {
		if s.assets[n.Name] == id {
			delete(s.assets, n.Name)
		}
		return
	}
	if parent, ok := s.nodes.Get(n.Parent); ok {
		parent.Children = removeID(parent.Children, id)
	}
	if sc, ok := s.scenes[n.Scene]; ok {
		sc.forget(id, n)
	}
}

// AddAsset registers a named host object without programs (mesh, material)
// and returns its id. Registering an existing name returns the existing id.
func (s *State) AddAsset(name string) ecs.EntityID {
	if id, ok := s.assets[name]; ok && s.ecs.Alive(id) {
		return id
	}
	id := s.ecs.CreateEntity()
	s.nodes.Set(id, &Node{Name: name, Path: name, Asset: true})
	s.assets[name] = id
	return id
}

// Asset returns the id of a named asset.
func (s *State) Asset(name string) (ecs.EntityID, bool) {
	id, ok := s.assets[name]
	if !ok || !s.ecs.Alive(id) {
		return 0, false
	}
	return id, true
}

func removeID(ids []ecs.EntityID, id ecs.EntityID) []ecs.EntityID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Ref is a weak reference to a host entity. It goes stale once the entity
// is destroyed, even if the slot is reused.
type Ref struct {
	state *State
	id    ecs.EntityID
	scene uuid.UUID
}

func (r *Ref) EntityID() ecs.EntityID { return r.id }
func (r *Ref) ContainerID() uuid.UUID { return r.scene }
func (r *Ref) Alive() bool            { return r.state.ecs.Alive(r.id) }
