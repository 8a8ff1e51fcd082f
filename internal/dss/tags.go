package dss

import (
	"fmt"

	"github.com/ontree-co/treeseg/internal/workspace"
)

const unassigned = "Unassigned"

// LoadAction says what kind of image the user should load to satisfy a tag
type LoadAction int

const (
	LoadNone LoadAction = iota
	LoadMain
	LoadOverlay
)

func (a LoadAction) String() string {
	switch a {
	case LoadMain:
		return "load main image"
	case LoadOverlay:
		return "load overlay"
	}
	return "none"
}

// Candidate is an object a tag may be bound to. ID 0 is "Unassigned".
type Candidate struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// roleFilter returns the layer roles that can satisfy kind
func roleFilter(kind TagKind) (workspace.Role, bool) {
	switch kind {
	case TagLayerMain:
		return workspace.RoleMain, true
	case TagLayerOverlay:
		return workspace.RoleOverlay, true
	case TagLayerAnatomical:
		return workspace.RoleMain | workspace.RoleOverlay, true
	}
	return 0, false
}

func (m *Model) mainLoaded() bool {
	return m.objects != nil && m.objects.IsMainLoaded()
}

// LoadTagSpecs replaces the bindings with fresh ones for specs and binds
// each tag that matches exactly one workspace object.
func (m *Model) LoadTagSpecs(specs []TagSpec) {
	m.tags = make([]TagTargetSpec, len(specs))
	for i, spec := range specs {
		m.tags[i] = TagTargetSpec{Spec: spec, Description: unassigned}
	}
	m.autoBind()

	m.tagIndex = -1
	if len(m.tags) > 0 {
		m.tagIndex = 0
	}
	m.topics.Bindings.emit(ChangeStructure)
}

// RebindFromWorkspace reruns automatic binding, typically after the
// workspace changed.
func (m *Model) RebindFromWorkspace() {
	m.autoBind()
	m.topics.Bindings.emit(ChangeStructure)
}

func (m *Model) autoBind() {
	for i := range m.tags {
		tag := &m.tags[i]
		tag.ObjectID = 0
		tag.Description = unassigned

		if !m.mainLoaded() {
			continue
		}
		roles, ok := roleFilter(tag.Spec.Kind)
		if !ok {
			continue
		}
		// An ambiguous match is left for the user to resolve
		matches := m.objects.FindLayersByTag(tag.Spec.Name, roles)
		if len(matches) == 1 {
			tag.ObjectID = matches[0].ID
			tag.Description = matches[0].DisplayName()
		}
	}
}

// IsComplete reports whether every required tag is bound
func (m *Model) IsComplete() bool {
	for _, tag := range m.tags {
		if tag.Spec.Required && !tag.Bound() {
			return false
		}
	}
	return true
}

// Bindings returns a copy of the current tag bindings
func (m *Model) Bindings() []TagTargetSpec {
	return append([]TagTargetSpec(nil), m.tags...)
}

// SelectTag selects a binding row by position
func (m *Model) SelectTag(index int) error {
	if index < 0 || index >= len(m.tags) {
		return fmt.Errorf("tag index %d out of range [0,%d)", index, len(m.tags))
	}
	if index != m.tagIndex {
		m.tagIndex = index
		m.topics.Bindings.emit(ChangeValues)
	}
	return nil
}

// SelectedTag returns the position of the selected binding row
func (m *Model) SelectedTag() (int, bool) {
	return m.tagIndex, m.tagIndex >= 0 && m.tagIndex < len(m.tags)
}

// BindSelectedTag binds the selected row to objectID. 0 unbinds.
func (m *Model) BindSelectedTag(objectID uint64) error {
	index, ok := m.SelectedTag()
	if !ok {
		return fmt.Errorf("no tag selected")
	}
	return m.BindTag(index, objectID)
}

// BindTag binds the tag at index to objectID. Unknown objects are stored as
// given but described as unassigned. Exclusivity across tags is not checked
// here; ApplyBindingsToWorkspace enforces it per tag name.
func (m *Model) BindTag(index int, objectID uint64) error {
	if index < 0 || index >= len(m.tags) {
		return fmt.Errorf("tag index %d out of range [0,%d)", index, len(m.tags))
	}
	tag := &m.tags[index]
	tag.ObjectID = objectID
	tag.Description = unassigned
	if m.objects != nil {
		if l := m.objects.FindLayer(objectID); l != nil {
			tag.Description = l.DisplayName()
		}
	}
	m.topics.Bindings.emit(ChangeStructure)
	return nil
}

// BindTagByName binds the first tag called name
func (m *Model) BindTagByName(name string, objectID uint64) error {
	for i, tag := range m.tags {
		if tag.Spec.Name == name {
			return m.BindTag(i, objectID)
		}
	}
	return fmt.Errorf("service has no tag %q", name)
}

// CandidateObjects lists what the tag at index can be bound to. The first
// entry is always "Unassigned".
func (m *Model) CandidateObjects(index int) ([]Candidate, error) {
	if index < 0 || index >= len(m.tags) {
		return nil, fmt.Errorf("tag index %d out of range [0,%d)", index, len(m.tags))
	}
	out := []Candidate{{ID: 0, Name: unassigned}}
	roles, ok := roleFilter(m.tags[index].Spec.Kind)
	if !ok || !m.mainLoaded() {
		return out, nil
	}
	for _, l := range m.objects.Layers(roles) {
		out = append(out, Candidate{ID: l.ID, Name: l.DisplayName()})
	}
	return out, nil
}

// TagLoadAction suggests which image to load for the tag at index
func (m *Model) TagLoadAction(index int) LoadAction {
	if index < 0 || index >= len(m.tags) {
		return LoadNone
	}
	kind := m.tags[index].Spec.Kind
	haveMain := m.mainLoaded()
	switch {
	case kind == TagLayerMain, kind == TagLayerAnatomical && !haveMain:
		return LoadMain
	case (kind == TagLayerOverlay || kind == TagLayerAnatomical) && haveMain:
		return LoadOverlay
	}
	return LoadNone
}

// ApplyBindingsToWorkspace writes each bound layer tag onto its object and
// strips the same tag name from every other object. Returns whether any
// object's tags changed.
func (m *Model) ApplyBindingsToWorkspace() bool {
	if m.objects == nil {
		return false
	}
	changed := false
	for _, tag := range m.tags {
		if !tag.Spec.Kind.IsLayer() {
			continue
		}
		target := m.objects.FindLayer(tag.ObjectID)
		if target == nil {
			continue
		}
		if target.AddTag(tag.Spec.Name) {
			changed = true
		}
		for _, l := range m.objects.Layers(workspace.RoleAny) {
			if l != target && l.RemoveTag(tag.Spec.Name) {
				changed = true
			}
		}
	}
	if changed {
		m.topics.Bindings.emit(ChangeValues)
	}
	return changed
}
