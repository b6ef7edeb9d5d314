package observation

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// IDResolver maps a simulation handle to a stable entity identifier.
type IDResolver interface {
	ResolveID(handle string) (string, error)
}

// Adapter is the signal source adapter. It validates raw frames, resolves
// handles to identifiers and emits Observations. It is not safe for
// concurrent use; it runs on the simulation tick thread.
type Adapter struct {
	ids    IDResolver
	logger *zap.Logger

	last time.Duration
	seen bool
}

// NewAdapter creates an Adapter resolving handles through ids.
func NewAdapter(ids IDResolver, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{ids: ids, logger: logger}
}

// Reset forgets the last accepted timestamp, e.g. after a simulation reset.
func (a *Adapter) Reset() {
	a.seen = false
	a.last = 0
}

// Normalize converts a Frame into Observations. Entities that fail
// validation are dropped and reported through the returned error, which
// joins one *MalformedObservationError per dropped item. The returned
// observations are always usable, even when err is non-nil. A frame whose
// entities were all dropped yields nil observations.
func (a *Adapter) Normalize(f Frame) ([]Observation, error) {
	if f.Timestamp < 0 || (a.seen && f.Timestamp <= a.last) {
		err := &MalformedObservationError{
			Timestamp: f.Timestamp,
			Reason:    "frame dropped",
			Err:       ErrNonMonotonicFrame,
		}
		a.logger.Warn("dropping frame",
			zap.Duration("timestamp", f.Timestamp),
			zap.Duration("last_timestamp", a.last),
			zap.Error(err),
		)
		return nil, err
	}
	a.last = f.Timestamp
	a.seen = true

	var errs []error
	drop := func(handle, reason string, cause error) {
		err := &MalformedObservationError{
			Timestamp: f.Timestamp,
			Handle:    handle,
			Reason:    reason,
			Err:       cause,
		}
		a.logger.Warn("dropping observation", zap.Error(err))
		errs = append(errs, err)
	}

	obs := make([]Observation, 0, len(f.Entities))
	seen := make(map[string]struct{}, len(f.Entities))

	for _, es := range f.Entities {
		if es.Handle == "" {
			drop("", "empty entity handle", nil)
			continue
		}
		if !es.Position.finite() || !es.Velocity.finite() {
			drop(es.Handle, "non-finite position or velocity", nil)
			continue
		}

		orientation := IdentityQuat
		if es.Orientation != nil {
			q := *es.Orientation
			if !q.finite() || q.norm() == 0 {
				drop(es.Handle, "invalid orientation quaternion", nil)
				continue
			}
			orientation = q.normalized()
		}

		id, err := a.ids.ResolveID(es.Handle)
		if err != nil {
			drop(es.Handle, "unresolvable entity handle", err)
			continue
		}
		if _, dup := seen[id]; dup {
			drop(es.Handle, "duplicate entity in frame", nil)
			continue
		}
		seen[id] = struct{}{}

		contacts := a.normalizeContacts(id, es, drop)

		obs = append(obs, Observation{
			Timestamp: f.Timestamp,
			Entity:    id,
			Pose: Pose{
				Position:    es.Position,
				Orientation: orientation,
			},
			Velocity: es.Velocity,
			Contacts: contacts,
		})
	}

	if len(obs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return obs, errors.Join(errs...)
}

func (a *Adapter) normalizeContacts(self string, es EntityState, drop func(string, string, error)) []Contact {
	if len(es.Contacts) == 0 {
		return nil
	}

	type key struct{ entity, group string }
	seen := make(map[key]struct{}, len(es.Contacts))
	contacts := make([]Contact, 0, len(es.Contacts))

	for _, c := range es.Contacts {
		if c.Entity == "" {
			drop(es.Handle, "contact with empty handle", nil)
			continue
		}
		other, err := a.ids.ResolveID(c.Entity)
		if err != nil {
			drop(es.Handle, "unresolvable contact handle "+c.Entity, err)
			continue
		}
		if other == self {
			continue
		}
		k := key{other, c.Group}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		contacts = append(contacts, Contact{Entity: other, Group: c.Group})
	}

	return contacts
}
