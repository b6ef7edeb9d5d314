package entity

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Definition describes one entity in a registry file.
type Definition struct {
	Handle string   `yaml:"handle"`
	ID     string   `yaml:"id,omitempty"`
	Tags   []string `yaml:"tags,omitempty"`
}

// File is the on-disk layout of an entity registry file:
//
//	entities:
//	  - handle: gripper_left
//	    id: robot-arm-01
//	    tags: [Gripper, Manipulator]
//	  - handle: cup_1
//	    tags: [Cup, Container]
type File struct {
	Entities []Definition `yaml:"entities"`
}

// StaticResolver resolves identifiers and tags from a fixed set of
// definitions. Handles without an explicit ID fall back to Fallback.
type StaticResolver struct {
	defs     map[string]Definition
	Fallback IDResolver
}

// NewStaticResolver builds a StaticResolver from defs. A nil fallback uses
// HandleResolver.
func NewStaticResolver(defs []Definition, fallback IDResolver) (*StaticResolver, error) {
	if fallback == nil {
		fallback = HandleResolver{}
	}

	r := &StaticResolver{
		defs:     make(map[string]Definition, len(defs)),
		Fallback: fallback,
	}

	for _, d := range defs {
		if d.Handle == "" {
			return nil, ErrEmptyHandle
		}
		if _, dup := r.defs[d.Handle]; dup {
			return nil, fmt.Errorf("duplicate entity handle %q", d.Handle)
		}
		r.defs[d.Handle] = d
	}

	return r, nil
}

// LoadStaticResolver reads a YAML registry file from path.
func LoadStaticResolver(path string, fallback IDResolver) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading entity registry: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing entity registry %s: %w", path, err)
	}

	return NewStaticResolver(f.Entities, fallback)
}

// ResolveID implements IDResolver.
func (r *StaticResolver) ResolveID(handle string) (string, error) {
	if d, ok := r.defs[handle]; ok && d.ID != "" {
		return d.ID, nil
	}
	return r.Fallback.ResolveID(handle)
}

// ResolveTags implements TagResolver.
func (r *StaticResolver) ResolveTags(handle string) ([]string, error) {
	d, ok := r.defs[handle]
	if !ok {
		return nil, nil
	}
	return slices.Clone(d.Tags), nil
}
