package data

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProgramManifest attaches one script to an entity.
type ProgramManifest struct {
	Script      string         `yaml:"script"`
	UpdateOrder int            `yaml:"update_order"`
	Vars        map[string]any `yaml:"vars"` // exported variable overrides
}

// EntityManifest is one node of a scene's entity tree.
type EntityManifest struct {
	Name     string            `yaml:"name"`
	Inactive bool              `yaml:"inactive"`
	Programs []ProgramManifest `yaml:"programs"`
	Children []EntityManifest  `yaml:"children"`
}

// SceneManifest describes a loadable container.
type SceneManifest struct {
	Name     string           `yaml:"name"`
	Assets   []string         `yaml:"assets"` // host objects with no programs (meshes, materials)
	Entities []EntityManifest `yaml:"entities"`
}

// LoadScene loads and validates a scene yaml file. A scene without a name
// takes the file's base name.
func LoadScene(path string) (*SceneManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	s, err := ParseScene(raw)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// ParseScene decodes and validates a scene manifest.
func ParseScene(raw []byte) (*SceneManifest, error) {
	var s SceneManifest
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks names and program references. Sibling names must be
// unique so entity paths are unambiguous.
func (s *SceneManifest) Validate() error {
	var errs []error
	seenAssets := make(map[string]bool, len(s.Assets))
	for _, a := range s.Assets {
		if a == "" {
			errs = append(errs, errors.New("asset with empty name"))
		} else if seenAssets[a] {
			errs = append(errs, fmt.Errorf("duplicate asset %q", a))
		}
		seenAssets[a] = true
	}
	validateEntities(s.Entities, "", &errs)
	return errors.Join(errs...)
}

func validateEntities(list []EntityManifest, parent string, errs *[]error) {
	seen := make(map[string]bool, len(list))
	for _, e := range list {
		path := joinPath(parent, e.Name)
		switch {
		case e.Name == "":
			*errs = append(*errs, fmt.Errorf("entity under %q has no name", parent))
		case strings.Contains(e.Name, "/"):
			*errs = append(*errs, fmt.Errorf("entity %q: name must not contain '/'", path))
		case seen[e.Name]:
			*errs = append(*errs, fmt.Errorf("duplicate entity %q", path))
		}
		seen[e.Name] = true
		for i, p := range e.Programs {
			if p.Script == "" {
				*errs = append(*errs, fmt.Errorf("entity %q program %d: script is required", path, i))
			}
		}
		validateEntities(e.Children, path, errs)
	}
}

// Scripts returns every referenced script, sorted and deduplicated.
func (s *SceneManifest) Scripts() []string {
	set := make(map[string]struct{})
	s.Walk(func(_ string, e *EntityManifest) {
		for _, p := range e.Programs {
			set[p.Script] = struct{}{}
		}
	})
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of entities and attached programs.
func (s *SceneManifest) Count() (entities, programs int) {
	s.Walk(func(_ string, e *EntityManifest) {
		entities++
		programs += len(e.Programs)
	})
	return entities, programs
}

// Walk visits every entity depth-first with its slash-separated path.
func (s *SceneManifest) Walk(fn func(path string, e *EntityManifest)) {
	var walk func(list []EntityManifest, parent string)
	walk = func(list []EntityManifest, parent string) {
		for i := range list {
			e := &list[i]
			path := joinPath(parent, e.Name)
			fn(path, e)
			walk(e.Children, path)
		}
	}
	walk(s.Entities, "")
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
