package workspace

// Graph gives the orchestrator lookups over the layers of a loaded workspace.
// A nil definition behaves like an empty workspace with no main image.
type Graph struct {
	def *Definition
}

// NewGraph wraps def
func NewGraph(def *Definition) *Graph {
	return &Graph{def: def}
}

// Definition returns the underlying definition
func (g *Graph) Definition() *Definition {
	return g.def
}

// IsMainLoaded reports whether the workspace has a main image
func (g *Graph) IsMainLoaded() bool {
	return len(g.Layers(RoleMain)) > 0
}

// Layers returns the layers whose role is in roles, in definition order
func (g *Graph) Layers(roles Role) []*Layer {
	if g == nil || g.def == nil {
		return nil
	}
	var out []*Layer
	for _, l := range g.def.Layers {
		if l.Role&roles != 0 {
			out = append(out, l)
		}
	}
	return out
}

// FindLayersByTag returns layers in roles that carry tag
func (g *Graph) FindLayersByTag(tag string, roles Role) []*Layer {
	var out []*Layer
	for _, l := range g.Layers(roles) {
		if l.HasTag(tag) {
			out = append(out, l)
		}
	}
	return out
}

// FindLayer looks a layer up by id, returning nil if there is none
func (g *Graph) FindLayer(id uint64) *Layer {
	if id == 0 {
		return nil
	}
	for _, l := range g.Layers(RoleAny) {
		if l.ID == id {
			return l
		}
	}
	return nil
}
