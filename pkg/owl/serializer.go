package owl

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/sink"
)

// Serializer converts a finished episode into a storage document.
type Serializer interface {
	Serialize(ep *episode.Episode) (*sink.Document, error)
}

// ExperimentSerializer produces an experiment ontology document.
type ExperimentSerializer struct {
	// Now stamps documents. Defaults to time.Now.
	Now func() time.Time
}

// NewExperimentSerializer creates an ExperimentSerializer.
func NewExperimentSerializer() *ExperimentSerializer {
	return &ExperimentSerializer{Now: time.Now}
}

// Serialize implements Serializer.
func (s *ExperimentSerializer) Serialize(ep *episode.Episode) (*sink.Document, error) {
	if ep == nil {
		return nil, fmt.Errorf("serializing experiment: %w", episode.ErrNoOpenEpisode)
	}

	doc := Build(ep)
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding experiment %s: %w", ep.ID, err)
	}

	return &sink.Document{
		ID:        ep.ID + "." + sink.KindExperiment,
		EpisodeID: ep.ID,
		Kind:      sink.KindExperiment,
		Body:      body,
		CreatedAt: now(s.Now),
	}, nil
}

func now(f func() time.Time) time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// Build assembles the ontology document of ep. Events keep the order of
// ep.Events, so a chronologically sorted episode yields a chronological
// document.
func Build(ep *episode.Episode) *Document {
	doc := &Document{
		Context:  maps.Clone(Namespaces),
		Ontology: "http://knowrob.org/kb/" + ep.ID + ".owl",
	}

	times := map[time.Duration]struct{}{ep.Start: {}, ep.End: {}}
	for _, t := range ep.Snapshots {
		times[t] = struct{}{}
	}

	byID := make(map[string]*episode.EventOccurrence, len(ep.Events))
	for i := range ep.Events {
		byID[ep.Events[i].ID] = &ep.Events[i]
	}

	experiment := Individual{
		ID:    ExperimentIRI(ep.ID),
		Class: ClassExperiment,
		Properties: []Property{
			literal(PropEpisodeID, "string", ep.ID),
			resource(PropStartTime, TimepointIRI(ep.Start)),
			resource(PropEndTime, TimepointIRI(ep.End)),
		},
	}
	if ep.TaskID != "" {
		experiment.Properties = append(experiment.Properties, literal(PropTaskContext, "string", ep.TaskID))
	}
	if ep.Aborted {
		experiment.Properties = append(experiment.Properties, flag(PropAborted))
	}

	events := make([]Individual, 0, len(ep.Events))
	for i := range ep.Events {
		occ := &ep.Events[i]
		times[occ.Start] = struct{}{}

		ind := Individual{
			ID:    EventIRI(occ),
			Class: eventClassNames[occ.Class],
			Properties: []Property{
				literal(PropEventID, "string", occ.ID),
				resource(PropStartTime, TimepointIRI(occ.Start)),
			},
		}
		if occ.End != nil {
			times[*occ.End] = struct{}{}
			ind.Properties = append(ind.Properties, resource(PropEndTime, TimepointIRI(*occ.End)))
		}
		for j, p := range occ.Participants {
			ind.Properties = append(ind.Properties, resource(participantProp(occ.Class, j), ObjectIRI(p)))
		}

		if parent, ok := byID[occ.ParentID]; ok {
			ind.Properties = append(ind.Properties, resource(PropSubEventOf, EventIRI(parent)))
		} else {
			experiment.Properties = append(experiment.Properties, resource(PropSubAction, ind.ID))
		}

		if occ.Truncated {
			ind.Properties = append(ind.Properties, flag(PropTruncated))
		}
		if occ.Untagged {
			ind.Properties = append(ind.Properties, flag(PropUntagged))
		}
		events = append(events, ind)
	}

	for _, t := range ep.Snapshots {
		experiment.Properties = append(experiment.Properties, resource(PropSnapshot, TimepointIRI(t)))
	}

	doc.Individuals = append(doc.Individuals, experiment)
	doc.Individuals = append(doc.Individuals, events...)

	for _, id := range slices.Sorted(maps.Keys(ep.Entities)) {
		ref := ep.Entities[id]
		class := ClassThing
		if len(ref.Tags) > 0 {
			class = PrefixKnowrob + ":" + ref.Tags[0]
		}
		obj := Individual{
			ID:    ObjectIRI(ref.ID),
			Class: class,
			Properties: []Property{
				literal(PropEntityID, "string", ref.ID),
				literal(PropHandle, "string", ref.Handle),
			},
		}
		for _, tag := range ref.Tags {
			obj.Properties = append(obj.Properties, literal(PropTag, "string", tag))
		}
		if len(ref.Tags) == 0 {
			obj.Properties = append(obj.Properties, flag(PropUntagged))
		}
		doc.Individuals = append(doc.Individuals, obj)
	}

	for _, t := range slices.Sorted(maps.Keys(times)) {
		iri := TimepointIRI(t)
		doc.Individuals = append(doc.Individuals, Individual{
			ID:    iri,
			Class: ClassTimePoint,
		})
	}

	return doc
}

// EventClassName returns the ontology class of an event class.
func EventClassName(c episode.EventClass) string {
	return eventClassNames[c]
}

func eventClassOf(name string) (episode.EventClass, bool) {
	for c, n := range eventClassNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// EpisodeSerializer produces a compact JSON rendering of the episode
// timeline, without ontology individuals.
type EpisodeSerializer struct {
	Now func() time.Time
}

type jsonEvent struct {
	ID           string             `json:"id"`
	Class        episode.EventClass `json:"class"`
	Participants []string           `json:"participants"`
	StartNs      int64              `json:"start_ns"`
	EndNs        *int64             `json:"end_ns,omitempty"`
	ParentID     string             `json:"parent_id,omitempty"`
	Truncated    bool               `json:"truncated,omitempty"`
	Untagged     bool               `json:"untagged,omitempty"`
}

type jsonEpisode struct {
	ID          string      `json:"id"`
	TaskID      string      `json:"task_id,omitempty"`
	StartNs     int64       `json:"start_ns"`
	EndNs       int64       `json:"end_ns"`
	Aborted     bool        `json:"aborted,omitempty"`
	Events      []jsonEvent `json:"events"`
	SnapshotsNs []int64     `json:"snapshots_ns"`
	Entities    []jsonRef   `json:"entities"`
}

type jsonRef struct {
	ID     string   `json:"id"`
	Handle string   `json:"handle"`
	Tags   []string `json:"tags,omitempty"`
}

// Serialize implements Serializer.
func (s *EpisodeSerializer) Serialize(ep *episode.Episode) (*sink.Document, error) {
	if ep == nil {
		return nil, fmt.Errorf("serializing episode: %w", episode.ErrNoOpenEpisode)
	}

	out := jsonEpisode{
		ID:          ep.ID,
		TaskID:      ep.TaskID,
		StartNs:     ep.Start.Nanoseconds(),
		EndNs:       ep.End.Nanoseconds(),
		Aborted:     ep.Aborted,
		Events:      make([]jsonEvent, 0, len(ep.Events)),
		SnapshotsNs: make([]int64, 0, len(ep.Snapshots)),
		Entities:    make([]jsonRef, 0, len(ep.Entities)),
	}
	for _, e := range ep.Events {
		je := jsonEvent{
			ID:           e.ID,
			Class:        e.Class,
			Participants: e.Participants,
			StartNs:      e.Start.Nanoseconds(),
			ParentID:     e.ParentID,
			Truncated:    e.Truncated,
			Untagged:     e.Untagged,
		}
		if e.End != nil {
			end := e.End.Nanoseconds()
			je.EndNs = &end
		}
		out.Events = append(out.Events, je)
	}
	for _, t := range ep.Snapshots {
		out.SnapshotsNs = append(out.SnapshotsNs, t.Nanoseconds())
	}
	for _, id := range slices.Sorted(maps.Keys(ep.Entities)) {
		ref := ep.Entities[id]
		out.Entities = append(out.Entities, jsonRef{ID: ref.ID, Handle: ref.Handle, Tags: ref.Tags})
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding episode %s: %w", ep.ID, err)
	}

	return &sink.Document{
		ID:        ep.ID + "." + sink.KindEpisode,
		EpisodeID: ep.ID,
		Kind:      sink.KindEpisode,
		Body:      body,
		CreatedAt: now(s.Now),
	}, nil
}

// ForKind returns the serializer producing documents of kind.
func ForKind(kind string) (Serializer, error) {
	switch strings.ToLower(kind) {
	case "", sink.KindExperiment:
		return NewExperimentSerializer(), nil
	case sink.KindEpisode:
		return &EpisodeSerializer{Now: time.Now}, nil
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
}
