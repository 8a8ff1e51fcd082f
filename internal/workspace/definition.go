// Package workspace reads and writes workspace definitions and exposes the
// layers they describe to the orchestrator.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is a bit set of layer roles
type Role uint8

const (
	RoleMain Role = 1 << iota
	RoleOverlay
	RoleSegmentation

	RoleAny = RoleMain | RoleOverlay | RoleSegmentation
)

var roleNames = map[string]Role{
	"main":         RoleMain,
	"overlay":      RoleOverlay,
	"segmentation": RoleSegmentation,
}

func (r Role) String() string {
	var parts []string
	for _, name := range []string{"main", "overlay", "segmentation"} {
		if r&roleNames[name] != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// MarshalYAML writes a single role by name
func (r Role) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML reads a role name
func (r *Role) UnmarshalYAML(value *yaml.Node) error {
	role, ok := roleNames[strings.ToLower(strings.TrimSpace(value.Value))]
	if !ok {
		return fmt.Errorf("line %d: unknown layer role %q", value.Line, value.Value)
	}
	*r = role
	return nil
}

// Layer is one image in the workspace
type Layer struct {
	ID       uint64   `yaml:"id"`
	Role     Role     `yaml:"role"`
	Nickname string   `yaml:"nickname,omitempty"`
	Path     string   `yaml:"path,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// DisplayName is the nickname, falling back to the file name
func (l *Layer) DisplayName() string {
	if l.Nickname != "" {
		return l.Nickname
	}
	if l.Path != "" {
		return filepath.Base(l.Path)
	}
	return fmt.Sprintf("Layer %d", l.ID)
}

// HasTag reports whether the layer carries tag
func (l *Layer) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds tag if absent and reports whether the set changed
func (l *Layer) AddTag(tag string) bool {
	if l.HasTag(tag) {
		return false
	}
	l.Tags = append(l.Tags, tag)
	return true
}

// RemoveTag removes every copy of tag and reports whether the set changed
func (l *Layer) RemoveTag(tag string) bool {
	kept := l.Tags[:0]
	removed := false
	for _, t := range l.Tags {
		if t == tag {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	l.Tags = kept
	return removed
}

// Definition is the saved form of a workspace
type Definition struct {
	Name   string   `yaml:"name"`
	Layers []*Layer `yaml:"layers"`

	// dir is where the definition was read from; relative layer paths resolve against it
	dir string
}

// Dir returns the directory the definition was loaded from
func (d *Definition) Dir() string {
	return d.dir
}

// ResolvePath returns the absolute location of a layer's file
func (d *Definition) ResolvePath(l *Layer) string {
	if l.Path == "" || filepath.IsAbs(l.Path) {
		return l.Path
	}
	return filepath.Join(d.dir, l.Path)
}

// Validate checks ids and roles
func (d *Definition) Validate() error {
	seen := make(map[uint64]bool, len(d.Layers))
	mains := 0
	for i, l := range d.Layers {
		if l == nil {
			return fmt.Errorf("layer %d is empty", i)
		}
		if l.ID == 0 {
			return fmt.Errorf("layer %d has no id", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("duplicate layer id %d", l.ID)
		}
		seen[l.ID] = true
		if l.Role == RoleMain {
			mains++
		}
	}
	if mains > 1 {
		return errors.New("a workspace can have only one main layer")
	}
	return nil
}

// Load reads a workspace definition from path
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path chosen by the user
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workspace %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workspace %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	def.dir = filepath.Dir(abs)
	return &def, nil
}

// Marshal renders the definition as YAML
func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Save writes the definition to path
func (d *Definition) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode workspace: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write workspace: %w", err)
	}
	return nil
}
