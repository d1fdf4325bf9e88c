package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const lobbyYAML = `
assets: [cube_mesh, sphere_mesh]
entities:
  - name: door
    programs:
      - script: door.lua
        update_order: 5
        vars:
          speed: 2.5
          label: front
    children:
      - name: handle
        inactive: true
        programs:
          - script: handle.lua
  - name: lamp
    programs:
      - script: door.lua
`

func TestLoadScene(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lobby.yaml")
	if err := os.WriteFile(path, []byte(lobbyYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadScene(path)
	if err != nil {
		t.Fatalf("LoadScene: %v", err)
	}
	if s.Name != "lobby" {
		t.Errorf("Name = %q, want file base name", s.Name)
	}
	if len(s.Assets) != 2 {
		t.Errorf("Assets = %v", s.Assets)
	}

	entities, programs := s.Count()
	if entities != 3 || programs != 3 {
		t.Errorf("Count = %d, %d; want 3, 3", entities, programs)
	}

	scripts := s.Scripts()
	if len(scripts) != 2 || scripts[0] != "door.lua" || scripts[1] != "handle.lua" {
		t.Errorf("Scripts = %v", scripts)
	}

	door := s.Entities[0].Programs[0]
	if door.UpdateOrder != 5 || door.Vars["speed"] != 2.5 || door.Vars["label"] != "front" {
		t.Errorf("door program = %+v", door)
	}
	if !s.Entities[0].Children[0].Inactive {
		t.Errorf("handle should be inactive")
	}

	var paths []string
	s.Walk(func(path string, _ *EntityManifest) { paths = append(paths, path) })
	if strings.Join(paths, ",") != "door,door/handle,lamp" {
		t.Errorf("Walk paths = %v", paths)
	}
}

func TestParseSceneValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"duplicate sibling", "entities: [{name: a}, {name: a}]", "duplicate entity"},
		{"missing name", "entities: [{programs: [{script: x.lua}]}]", "has no name"},
		{"slash in name", "entities: [{name: a/b}]", "must not contain"},
		{"missing script", "entities: [{name: a, programs: [{update_order: 1}]}]", "script is required"},
		{"duplicate asset", "assets: [m, m]", "duplicate asset"},
		{"bad yaml", "entities: [", "parse scene"},
	}
	for _, tc := range cases {
		_, err := ParseScene([]byte(tc.yaml))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want containing %q", tc.name, err, tc.want)
		}
	}

	if _, err := ParseScene([]byte("entities: [{name: a, children: [{name: a}]}]")); err != nil {
		t.Errorf("same name at different depth should be valid: %v", err)
	}
}
