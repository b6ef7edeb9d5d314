// Package observation normalizes raw per-tick simulation state into uniform,
// immutable Observation records consumed by the event detectors and the
// snapshot recorder.
package observation

import "time"

// Contact is one contact reported by an entity. Group names the contact
// shape group (e.g. an opposing finger group) that touched the other entity;
// it is empty when the simulation does not distinguish groups.
type Contact struct {
	Entity string `json:"entity" yaml:"entity"`
	Group  string `json:"group,omitempty" yaml:"group,omitempty"`
}

// Observation is the instantaneous state of one entity at one tick.
// Entity and Contacts hold resolved entity identifiers.
type Observation struct {
	Timestamp time.Duration
	Entity    string
	Pose      Pose
	Velocity  Vec3
	Contacts  []Contact
}

// InContactWith reports whether o lists a contact with entity.
func (o Observation) InContactWith(entity string) bool {
	for _, c := range o.Contacts {
		if c.Entity == entity {
			return true
		}
	}
	return false
}

// ContactGroups returns the distinct non-empty contact groups o touches
// entity with.
func (o Observation) ContactGroups(entity string) map[string]struct{} {
	groups := make(map[string]struct{})
	for _, c := range o.Contacts {
		if c.Entity == entity && c.Group != "" {
			groups[c.Group] = struct{}{}
		}
	}
	return groups
}

// Frame is one simulation tick as delivered by the simulation: a timestamp
// plus the raw state of every tracked entity, keyed by simulation handle.
type Frame struct {
	// Timestamp is simulation time since simulation start. In YAML recordings
	// it is written as a duration string ("1.5s").
	Timestamp time.Duration `json:"timestamp_ns" yaml:"timestamp"`

	Entities []EntityState `json:"entities" yaml:"entities"`
}

// EntityState is the raw state of one entity within a Frame.
type EntityState struct {
	Handle      string    `json:"handle" yaml:"handle"`
	Position    Vec3      `json:"position" yaml:"position"`
	Orientation *Quat     `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	Velocity    Vec3      `json:"velocity" yaml:"velocity"`
	Contacts    []Contact `json:"contacts,omitempty" yaml:"contacts,omitempty"`
}
