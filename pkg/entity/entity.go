// Package entity resolves simulation entity handles to stable identifiers
// and semantic tags, and caches the result for the lifetime of an episode.
package entity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// IDResolver assigns or looks up a stable unique identifier for a handle.
// It must be deterministic for the same handle across an episode.
type IDResolver interface {
	ResolveID(handle string) (string, error)
}

// TagResolver maps a handle to its semantic class labels. It may return an
// empty set.
type TagResolver interface {
	ResolveTags(handle string) ([]string, error)
}

// ErrEmptyHandle is returned when resolving an empty handle.
var ErrEmptyHandle = errors.New("empty entity handle")

// UnresolvedEntityError reports an entity whose semantic tags could not be
// resolved. It is never fatal: occurrences involving the entity are kept and
// flagged untagged.
type UnresolvedEntityError struct {
	Handle string
	Err    error
}

func (e *UnresolvedEntityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("entity %q has no semantic tags", e.Handle)
	}
	return fmt.Sprintf("resolving tags for entity %q: %v", e.Handle, e.Err)
}

func (e *UnresolvedEntityError) Unwrap() error {
	return e.Err
}

// HandleResolver uses the handle itself as the identifier.
type HandleResolver struct{}

// ResolveID implements IDResolver.
func (HandleResolver) ResolveID(handle string) (string, error) {
	if handle == "" {
		return "", ErrEmptyHandle
	}
	return handle, nil
}

// UUIDResolver derives a name-based (SHA-1) UUID from the handle, so the same
// handle always yields the same identifier.
type UUIDResolver struct {
	Namespace uuid.UUID
}

// NewUUIDResolver returns a UUIDResolver in the OID namespace.
func NewUUIDResolver() UUIDResolver {
	return UUIDResolver{Namespace: uuid.NameSpaceOID}
}

// ResolveID implements IDResolver.
func (r UUIDResolver) ResolveID(handle string) (string, error) {
	if handle == "" {
		return "", ErrEmptyHandle
	}
	return uuid.NewSHA1(r.Namespace, []byte(handle)).String(), nil
}

// NoTags is a TagResolver that never knows any tags.
type NoTags struct{}

// ResolveTags implements TagResolver.
func (NoTags) ResolveTags(string) ([]string, error) {
	return nil, nil
}
