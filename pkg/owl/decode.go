package owl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/papercomputeco/semlog/pkg/entity"
	"github.com/papercomputeco/semlog/pkg/episode"
)

// ErrNoExperiment is returned when decoding a document without an
// experiment individual.
var ErrNoExperiment = errors.New("document has no experiment individual")

// Decode reconstructs the episode an experiment document was built from.
func Decode(body []byte) (*episode.Episode, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding experiment document: %w", err)
	}
	return FromDocument(&doc)
}

// FromDocument reconstructs the episode described by doc.
func FromDocument(doc *Document) (*episode.Episode, error) {
	ep := &episode.Episode{}
	found := false

	eventIDs := make(map[string]string)
	for _, in := range doc.Individuals {
		if _, ok := eventClassOf(in.Class); ok {
			if p, ok := in.Get(PropEventID); ok {
				eventIDs[in.ID] = p.Value
			}
		}
	}

	for i := range doc.Individuals {
		in := &doc.Individuals[i]

		switch {
		case in.Class == ClassExperiment:
			found = true
			if err := decodeExperiment(in, ep); err != nil {
				return nil, err
			}

		case in.Class == ClassTimePoint:
			continue

		default:
			if class, ok := eventClassOf(in.Class); ok {
				occ, err := decodeEvent(in, class, eventIDs)
				if err != nil {
					return nil, err
				}
				ep.Events = append(ep.Events, occ)
				continue
			}
			if p, ok := in.Get(PropEntityID); ok {
				ref := entity.Ref{ID: p.Value}
				if h, ok := in.Get(PropHandle); ok {
					ref.Handle = h.Value
				}
				for _, tag := range in.All(PropTag) {
					ref.Tags = append(ref.Tags, tag.Value)
				}
				if ep.Entities == nil {
					ep.Entities = make(map[string]entity.Ref)
				}
				ep.Entities[ref.ID] = ref
			}
		}
	}

	if !found {
		return nil, ErrNoExperiment
	}
	return ep, nil
}

func decodeExperiment(in *Individual, ep *episode.Episode) error {
	for _, p := range in.Properties {
		var err error
		switch p.Predicate {
		case PropEpisodeID:
			ep.ID = p.Value
		case PropTaskContext:
			ep.TaskID = p.Value
		case PropAborted:
			ep.Aborted = p.Value == "true"
		case PropStartTime:
			ep.Start, err = ParseTimepointIRI(p.Resource)
		case PropEndTime:
			ep.End, err = ParseTimepointIRI(p.Resource)
		case PropSnapshot:
			t, perr := ParseTimepointIRI(p.Resource)
			ep.Snapshots = append(ep.Snapshots, t)
			err = perr
		}
		if err != nil {
			return fmt.Errorf("decoding experiment %s: %w", in.ID, err)
		}
	}
	return nil
}

func decodeEvent(in *Individual, class episode.EventClass, eventIDs map[string]string) (episode.EventOccurrence, error) {
	occ := episode.EventOccurrence{Class: class}

	for _, p := range in.Properties {
		var err error
		switch {
		case p.Predicate == PropEventID:
			occ.ID = p.Value
		case p.Predicate == PropStartTime:
			occ.Start, err = ParseTimepointIRI(p.Resource)
		case p.Predicate == PropEndTime:
			end, perr := ParseTimepointIRI(p.Resource)
			occ.End, err = &end, perr
		case p.Predicate == PropSubEventOf:
			parent, ok := eventIDs[p.Resource]
			if !ok {
				err = fmt.Errorf("unknown parent event %s", p.Resource)
			}
			occ.ParentID = parent
		case p.Predicate == PropTruncated:
			occ.Truncated = p.Value == "true"
		case p.Predicate == PropUntagged:
			occ.Untagged = p.Value == "true"
		case isParticipantProp(p.Predicate):
			occ.Participants = append(occ.Participants, strings.TrimPrefix(p.Resource, PrefixLog+":"))
		}
		if err != nil {
			return occ, fmt.Errorf("decoding event %s: %w", in.ID, err)
		}
	}

	return occ, nil
}
