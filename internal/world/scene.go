package world

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/vmhost/server/internal/core/ecs"
	"github.com/vmhost/server/internal/data"
	"github.com/vmhost/server/internal/runtime"
	"go.uber.org/zap"
)

// Scene is a spawned scene manifest. It is the runtime's container.
type Scene struct {
	id     uuid.UUID
	name   string
	state  *State
	roots  []ecs.EntityID
	byPath map[string]ecs.EntityID
}

func (sc *Scene) ID() uuid.UUID { return sc.id }
func (sc *Scene) Name() string  { return sc.name }

// Walk visits every live entity depth-first, inactive ones included.
func (sc *Scene) Walk(fn func(runtime.EntityRef, []*runtime.Instance)) {
	var walk func(ids []ecs.EntityID)
	walk = func(ids []ecs.EntityID) {
		for _, id := range ids {
			n, ok := sc.state.Node(id)
			if !ok {
				continue
			}
			fn(sc.state.Ref(id), sc.state.Instances(id))
			walk(n.Children)
		}
	}
	walk(slices.Clone(sc.roots))
}

// Find returns the entity at path.
func (sc *Scene) Find(path string) (ecs.EntityID, bool) {
	id, ok := sc.byPath[path]
	if !ok || !sc.state.Alive(id) {
		return 0, false
	}
	return id, true
}

// Roots returns the top-level entities.
func (sc *Scene) Roots() []ecs.EntityID { return slices.Clone(sc.roots) }

func (sc *Scene) forget(id ecs.EntityID, n *Node) {
	if sc.byPath[n.Path] == id {
		delete(sc.byPath, n.Path)
	}
	sc.roots = removeID(sc.roots, id)
}

// Scene returns a spawned scene.
func (s *State) Scene(id uuid.UUID) (*Scene, bool) {
	sc, ok := s.scenes[id]
	return sc, ok
}

// SceneByName returns the most recently loaded scene called name.
func (s *State) SceneByName(name string) (*Scene, bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		if sc := s.scenes[s.order[i]]; sc.name == name {
			return sc, true
		}
	}
	return nil, false
}

// Scenes returns spawned scenes in load order.
func (s *State) Scenes() []*Scene {
	out := make([]*Scene, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.scenes[id])
	}
	return out
}

// Load spawns m and hands it to the runtime as a container. A single-mode
// load unloads every scene spawned before it.
func (s *State) Load(m *data.SceneManifest, a Attacher, additive bool) (*Scene, int, error) {
	if !additive {
		for _, sc := range s.Scenes() {
			s.UnloadScene(sc.id)
		}
	}
	sc, err := s.Spawn(m, a)
	if err != nil {
		return nil, 0, err
	}
	n := s.rt.LoadContainer(sc, additive)
	return sc, n, nil
}

// Spawn builds the entity tree of m and attaches its programs without
// initializing them. Programs of inactive entities, or of entities under an
// inactive parent, start disabled. On error nothing is left behind.
func (s *State) Spawn(m *data.SceneManifest, a Attacher) (*Scene, error) {
	sc := &Scene{
		id:     uuid.New(),
		name:   m.Name,
		state:  s,
		byPath: make(map[string]ecs.EntityID),
	}
	for _, name := range m.Assets {
		s.AddAsset(name)
	}

	var created []ecs.EntityID
	var errs []error
	for i := range m.Entities {
		id := s.build(sc, &m.Entities[i], 0, "", false, a, &created, &errs)
		sc.roots = append(sc.roots, id)
	}
	if err := errors.Join(errs...); err != nil {
		for _, id := range created {
			s.discard(sc, id)
		}
		return nil, fmt.Errorf("spawn scene %s: %w", m.Name, err)
	}

	s.scenes[sc.id] = sc
	s.order = append(s.order, sc.id)
	s.log.Info("scene spawned",
		zap.String("scene", sc.name),
		zap.Stringer("id", sc.id),
		zap.Int("entities", len(created)),
	)
	return sc, nil
}

func (s *State) build(sc *Scene, e *data.EntityManifest, parent ecs.EntityID, parentPath string, parentInactive bool, a Attacher, created *[]ecs.EntityID, errs *[]error) ecs.EntityID {
	id := s.ecs.CreateEntity()
	*created = append(*created, id)

	path := e.Name
	if parentPath != "" {
		path = parentPath + "/" + e.Name
	}
	inactive := parentInactive || e.Inactive
	n := &Node{Name: e.Name, Path: path, Scene: sc.id, Parent: parent, Inactive: inactive}
	s.nodes.Set(id, n)
	sc.byPath[path] = id

	ref := &Ref{state: s, id: id, scene: sc.id}
	att := &Attachment{}
	for _, pm := range e.Programs {
		inst, err := a.Attach(ref, pm)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if inactive {
			inst.SetEnabled(false)
		}
		att.Instances = append(att.Instances, inst)
	}
	if len(att.Instances) > 0 {
		s.attached.Set(id, att)
	}

	for i := range e.Children {
		child := s.build(sc, &e.Children[i], id, path, inactive, a, created, errs)
		n.Children = append(n.Children, child)
	}
	return id
}

// discard destroys id immediately, bypassing the queue. Only used to roll
// back a failed spawn before anything could observe the entities.
func (s *State) discard(sc *Scene, id ecs.EntityID) {
	if n, ok := s.nodes.Get(id); ok {
		sc.forget(id, n)
	}
	if a, ok := s.attached.Get(id); ok {
		for _, inst := range a.Instances {
			inst.Destroy()
		}
	}
	s.ecs.Registry().RemoveAll(id)
	s.ecs.Pool().Destroy(id)
}

// Instantiate spawns e under parent at runtime and registers each attached
// program with the runtime, which initializes and schedules it.
func (s *State) Instantiate(parent ecs.EntityID, e *data.EntityManifest, a Attacher) (ecs.EntityID, error) {
	pn, ok := s.Node(parent)
	if !ok || pn.Asset {
		return 0, fmt.Errorf("instantiate %s: parent %s is not a live scene entity", e.Name, parent)
	}
	sc, ok := s.scenes[pn.Scene]
	if !ok {
		return 0, fmt.Errorf("instantiate %s: scene %s not loaded", e.Name, pn.Scene)
	}
	if id, taken := sc.Find(pn.Path + "/" + e.Name); taken {
		return 0, fmt.Errorf("instantiate %s: %s already has a child named %q (%s)", e.Name, pn.Path, e.Name, id)
	}

	var created []ecs.EntityID
	var errs []error
	id := s.build(sc, e, parent, pn.Path, pn.Inactive, a, &created, &errs)
	if err := errors.Join(errs...); err != nil {
		for _, c := range created {
			s.discard(sc, c)
		}
		return 0, fmt.Errorf("instantiate %s: %w", e.Name, err)
	}
	pn.Children = append(pn.Children, id)

	for _, c := range created {
		for _, inst := range s.Instances(c) {
			if err := s.rt.Register(inst); err != nil {
				s.log.Warn("runtime program registration failed",
					zap.Stringer("entity", c),
					zap.Error(err),
				)
				inst.Destroy()
			}
		}
	}
	return id, nil
}

// UnloadScene removes a scene from the runtime and queues its entities for
// destruction.
func (s *State) UnloadScene(id uuid.UUID) bool {
	sc, ok := s.scenes[id]
	if !ok {
		return false
	}
	s.rt.UnloadContainer(id)
	for _, root := range sc.roots {
		s.Destroy(root)
	}
	delete(s.scenes, id)
	s.order = slices.DeleteFunc(s.order, func(v uuid.UUID) bool { return v == id })
	s.log.Info("scene unloaded", zap.String("scene", sc.name), zap.Stringer("id", id))
	return true
}
