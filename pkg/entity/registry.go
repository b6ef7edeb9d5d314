package entity

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Ref is a resolved entity: its identifier, the simulation handle it was
// resolved from and its semantic tags.
type Ref struct {
	ID     string   `json:"id"`
	Handle string   `json:"handle"`
	Tags   []string `json:"tags,omitempty"`
}

// Tagged reports whether the entity has at least one semantic tag.
func (r Ref) Tagged() bool {
	return len(r.Tags) > 0
}

// HasTag reports whether tag is among the entity's semantic tags.
func (r Ref) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Registry resolves each handle once and caches the Ref until Reset, which is
// called at every episode boundary.
type Registry struct {
	ids    IDResolver
	tags   TagResolver
	logger *zap.Logger

	mu       sync.RWMutex
	byHandle map[string]Ref
	byID     map[string]Ref
}

// NewRegistry creates a Registry. A nil tags resolver resolves no tags.
func NewRegistry(ids IDResolver, tags TagResolver, logger *zap.Logger) *Registry {
	if ids == nil {
		ids = HandleResolver{}
	}
	if tags == nil {
		tags = NoTags{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		ids:      ids,
		tags:     tags,
		logger:   logger,
		byHandle: make(map[string]Ref),
		byID:     make(map[string]Ref),
	}
}

// ResolveID returns the cached identifier for handle, resolving the entity's
// identifier and tags on first use. Tag resolution failures are logged and
// cached as an untagged entity.
func (r *Registry) ResolveID(handle string) (string, error) {
	r.mu.RLock()
	ref, ok := r.byHandle[handle]
	r.mu.RUnlock()
	if ok {
		return ref.ID, nil
	}

	ref, err := r.resolve(handle)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.byHandle[handle] = ref
	r.byID[ref.ID] = ref
	r.mu.Unlock()

	return ref.ID, nil
}

func (r *Registry) resolve(handle string) (Ref, error) {
	if handle == "" {
		return Ref{}, ErrEmptyHandle
	}

	id, err := r.ids.ResolveID(handle)
	if err != nil {
		return Ref{}, err
	}
	if id == "" {
		return Ref{}, errors.New("identifier resolver returned an empty id for " + handle)
	}

	tags, err := r.tags.ResolveTags(handle)
	if err != nil || len(tags) == 0 {
		r.logger.Warn("entity is untagged",
			zap.String("handle", handle),
			zap.String("entity_id", id),
			zap.Error(&UnresolvedEntityError{Handle: handle, Err: err}),
		)
		tags = nil
	}

	return Ref{ID: id, Handle: handle, Tags: tags}, nil
}

// Lookup returns the cached Ref for an entity identifier.
func (r *Registry) Lookup(id string) (Ref, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.byID[id]
	return ref, ok
}

// Refs returns every cached Ref keyed by identifier.
func (r *Registry) Refs() map[string]Ref {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.byID)
}

// Reset clears the cache.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.byHandle)
	clear(r.byID)
}
