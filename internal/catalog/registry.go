package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Registry is the immutable catalog of artifact types and their tier
// assignments. It is built once at startup and shared by reference.
type Registry struct {
	nodes  []*ResourceNode
	index  map[string]int
	inputs IDSet
	tiers  map[string]TierAssignment
}

type catalogFile struct {
	Inputs    []string                  `yaml:"inputs"`
	Resources []*ResourceNode           `yaml:"resources"`
	Tiers     map[string]TierAssignment `yaml:"tiers"`
}

// Default returns the registry built from the embedded catalog.
func Default() (*Registry, error) {
	return Parse(embeddedCatalog)
}

// Load reads a catalog file from disk. An empty path loads the embedded catalog.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes a YAML catalog and checks its invariants.
func Parse(data []byte) (*Registry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	r := &Registry{
		nodes:  f.Resources,
		index:  make(map[string]int, len(f.Resources)),
		inputs: NewIDSet(f.Inputs...),
		tiers:  f.Tiers,
	}
	if r.tiers == nil {
		r.tiers = make(map[string]TierAssignment)
	}
	for i, n := range f.Resources {
		if n == nil || n.ID == "" {
			return nil, fmt.Errorf("resource #%d has no id", i)
		}
		if _, dup := r.index[n.ID]; dup {
			return nil, fmt.Errorf("duplicate resource %q", n.ID)
		}
		if r.inputs.Has(n.ID) {
			return nil, fmt.Errorf("resource %q is also declared as an input", n.ID)
		}
		r.index[n.ID] = i
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup returns the node for id.
func (r *Registry) Lookup(id string) (*ResourceNode, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.nodes[i], true
}

// MustLookup is Lookup with ErrUnknownResource for missing ids.
func (r *Registry) MustLookup(id string) (*ResourceNode, error) {
	n, ok := r.Lookup(id)
	if !ok {
		return nil, UnknownResource(id)
	}
	return n, nil
}

// Position returns the catalog insertion index of id, or -1.
func (r *Registry) Position(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}

// IsInput reports whether id is a raw input placeholder rather than a
// generated artifact type.
func (r *Registry) IsInput(id string) bool { return r.inputs.Has(id) }

// Known reports whether id is either a resource or an input placeholder.
func (r *Registry) Known(id string) bool {
	_, ok := r.index[id]
	return ok || r.inputs.Has(id)
}

// Nodes returns the resources in insertion order. The slice is a copy; the
// nodes themselves must not be modified.
func (r *Registry) Nodes() []*ResourceNode {
	out := make([]*ResourceNode, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Len returns the number of resources.
func (r *Registry) Len() int { return len(r.nodes) }
