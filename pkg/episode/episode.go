// Package episode holds the episodic data model and the timeline builder
// that assembles event occurrences and snapshots into one episode.
package episode

import (
	"cmp"
	"slices"
	"time"

	"github.com/papercomputeco/semlog/pkg/entity"
	"github.com/papercomputeco/semlog/pkg/observation"
)

// EventOccurrence is one discrete symbolic event instance. End is nil while
// the occurrence is active and set, never before Start, once it closes.
type EventOccurrence struct {
	ID           string
	Class        EventClass
	Participants []string
	Start        time.Duration
	End          *time.Duration
	ParentID     string

	// Truncated marks an occurrence force-closed at episode end or abort.
	Truncated bool

	// Untagged marks an occurrence with a participant that has no semantic
	// tags.
	Untagged bool
}

// Closed reports whether the occurrence has an end time.
func (e *EventOccurrence) Closed() bool {
	return e.End != nil
}

// Duration returns End - Start for closed occurrences and zero otherwise.
func (e *EventOccurrence) Duration() time.Duration {
	if e.End == nil {
		return 0
	}
	return *e.End - e.Start
}

// Contains reports whether the closed interval of e contains t. Active
// occurrences contain every t at or after Start.
func (e *EventOccurrence) Contains(t time.Duration) bool {
	if t < e.Start {
		return false
	}
	return e.End == nil || t <= *e.End
}

// Clone returns a deep copy of e.
func (e EventOccurrence) Clone() EventOccurrence {
	e.Participants = slices.Clone(e.Participants)
	if e.End != nil {
		end := *e.End
		e.End = &end
	}
	return e
}

// EntityState is the recorded state of one entity within a snapshot.
type EntityState struct {
	Pose     observation.Pose `json:"pose"`
	Velocity observation.Vec3 `json:"velocity"`
}

// Snapshot is a raw world-state sample. Entities maps entity identifiers to
// their recorded state.
type Snapshot struct {
	Timestamp time.Duration          `json:"timestamp_ns"`
	Entities  map[string]EntityState `json:"entities"`
}

// Episode is the root aggregate of one logging session timeline.
type Episode struct {
	ID     string
	TaskID string
	Start  time.Duration
	End    time.Duration

	// Events holds closed occurrences. The builder keeps them in arrival
	// order; Sorted orders them by start time.
	Events []EventOccurrence

	// Snapshots references the recorded snapshots by timestamp.
	Snapshots []time.Duration

	// Entities holds every resolved entity referenced during the episode.
	Entities map[string]entity.Ref

	// Aborted marks an episode that was aborted rather than closed.
	Aborted bool
}

// Sorted returns a copy of ep with events ordered by start time and
// snapshot references ordered by timestamp. Events with equal start times
// keep their arrival order.
func (ep *Episode) Sorted() *Episode {
	out := *ep
	out.Events = make([]EventOccurrence, len(ep.Events))
	for i, e := range ep.Events {
		out.Events[i] = e.Clone()
	}
	slices.SortStableFunc(out.Events, func(a, b EventOccurrence) int {
		return cmp.Compare(a.Start, b.Start)
	})

	out.Snapshots = slices.Clone(ep.Snapshots)
	slices.Sort(out.Snapshots)

	return &out
}

// Event returns the occurrence with the given id.
func (ep *Episode) Event(id string) (*EventOccurrence, bool) {
	for i := range ep.Events {
		if ep.Events[i].ID == id {
			return &ep.Events[i], true
		}
	}
	return nil, false
}

// Children returns the identifiers of the direct children of parentID in
// the order they appear in Events.
func (ep *Episode) Children(parentID string) []string {
	var ids []string
	for _, e := range ep.Events {
		if e.ParentID == parentID {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Truncated counts the truncated occurrences in the episode.
func (ep *Episode) Truncated() int {
	n := 0
	for _, e := range ep.Events {
		if e.Truncated {
			n++
		}
	}
	return n
}
