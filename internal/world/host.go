package world

import (
	"strings"

	"github.com/vmhost/server/internal/core/ecs"
	"github.com/vmhost/server/internal/sandbox"
)

// Handle wraps a host entity for the sandbox boundary. Identity is the
// generational entity id, so a handle to a destroyed entity never aliases
// its replacement.
func (s *State) Handle(id ecs.EntityID) sandbox.Handle {
	if !s.ecs.Alive(id) {
		return sandbox.Nil
	}
	return sandbox.NewHandle(sandbox.ObjectID(id), s.Ref(id))
}

// AssetHandles returns handles for the named assets, registering any that
// do not exist yet. Used to seed the blacklist before scenes load.
func (s *State) AssetHandles(names []string) []sandbox.Handle {
	out := make([]sandbox.Handle, 0, len(names))
	for _, name := range names {
		out = append(out, s.Handle(s.AddAsset(name)))
	}
	return out
}

// Lookup resolves an asset name, a "scene:path" or a bare path searched in
// scene load order.
func (s *State) Lookup(name string) (sandbox.Handle, bool) {
	if id, ok := s.Asset(name); ok {
		return s.Handle(id), true
	}
	if scene, path, ok := strings.Cut(name, ":"); ok {
		sc, found := s.SceneByName(scene)
		if !found {
			return sandbox.Nil, false
		}
		if id, found := sc.Find(path); found {
			return s.Handle(id), true
		}
		return sandbox.Nil, false
	}
	for _, sc := range s.Scenes() {
		if id, ok := sc.Find(name); ok {
			return s.Handle(id), true
		}
	}
	return sandbox.Nil, false
}

// Describe returns the name of a live object.
func (s *State) Describe(h sandbox.Handle) (string, bool) {
	n, ok := s.Node(ecs.EntityID(h.ID()))
	if !ok {
		return "", false
	}
	return n.Name, true
}

func (s *State) Children(h sandbox.Handle) []sandbox.Handle {
	n, ok := s.Node(ecs.EntityID(h.ID()))
	if !ok {
		return nil
	}
	out := make([]sandbox.Handle, 0, len(n.Children))
	for _, c := range n.Children {
		if s.ecs.Alive(c) {
			out = append(out, s.Handle(c))
		}
	}
	return out
}

// Send runs event on the programs attached to target.
func (s *State) Send(target sandbox.Handle, event string) int {
	id := ecs.EntityID(target.ID())
	if !s.ecs.Alive(id) {
		return 0
	}
	return s.rt.RunEventOn(s.Ref(id), event)
}
