// Package owl serializes finished episodes into ontology documents: a flat
// list of named individuals (the experiment, its events, the objects that
// took part and the timepoints they reference) linked by properties.
package owl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/semlog/pkg/episode"
)

// Namespace prefixes used by document nodes.
const (
	PrefixKnowrob = "knowrob"
	PrefixLog     = "log"
	PrefixXSD     = "xsd"
)

// Namespaces maps prefixes to their IRIs.
var Namespaces = map[string]string{
	"rdf":         "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs":        "http://www.w3.org/2000/01/rdf-schema#",
	"owl":         "http://www.w3.org/2002/07/owl#",
	PrefixXSD:     "http://www.w3.org/2001/XMLSchema#",
	PrefixKnowrob: "http://knowrob.org/kb/knowrob.owl#",
	PrefixLog:     "http://knowrob.org/kb/unreal_log.owl#",
}

// Property names.
const (
	PropStartTime     = "knowrob:startTime"
	PropEndTime       = "knowrob:endTime"
	PropInContact     = "knowrob:inContact"
	PropIsSupported   = "knowrob:isSupported"
	PropIsSupporting  = "knowrob:isSupporting"
	PropPerformedBy   = "knowrob:performedBy"
	PropObjectActedOn = "knowrob:objectActedOn"
	PropParticipant   = "knowrob:hasParticipant"
	PropSubEventOf    = "knowrob:subEventOf"
	PropTaskContext   = "knowrob:taskContext"
	PropSubAction     = "knowrob:subAction"
	PropSnapshot      = "log:snapshotAt"
	PropEpisodeID     = "log:episodeId"
	PropEventID       = "log:eventId"
	PropEntityID      = "log:entityId"
	PropHandle        = "log:handle"
	PropTag           = "log:semanticTag"
	PropTruncated     = "log:truncated"
	PropUntagged      = "log:untagged"
	PropAborted       = "log:aborted"
)

// Class names of non-event individuals.
const (
	ClassExperiment = "knowrob:UnrealExperiment"
	ClassTimePoint  = "knowrob:TimePoint"
	ClassThing      = "knowrob:Thing"
)

var eventClassNames = map[episode.EventClass]string{
	episode.ClassContact:     "knowrob:TouchingSituation",
	episode.ClassSupportedBy: "knowrob:SupportedBySituation",
	episode.ClassGrasp:       "knowrob:GraspingSomething",
	episode.ClassReach:       "knowrob:Reaching",
	episode.ClassProximity:   "knowrob:ProximitySituation",

	episode.ClassPreGraspPositioning: "knowrob:PreGraspPositioning",
	episode.ClassLift:                "knowrob:PickUpSituation",
	episode.ClassTransport:           "knowrob:TransportSituation",
	episode.ClassSlide:               "knowrob:SlideSituation",
	episode.ClassPutDown:             "knowrob:PutDownSituation",
}

// participantProps lists, per event class, the property naming each
// participant position. The last entry repeats for longer lists.
var participantProps = map[episode.EventClass][]string{
	episode.ClassContact:     {PropInContact},
	episode.ClassSupportedBy: {PropIsSupported, PropIsSupporting},
	episode.ClassGrasp:       {PropPerformedBy, PropObjectActedOn},
	episode.ClassReach:       {PropPerformedBy, PropObjectActedOn},
	episode.ClassProximity:   {PropParticipant},

	episode.ClassPreGraspPositioning: {PropPerformedBy, PropObjectActedOn},
	episode.ClassLift:                {PropPerformedBy, PropObjectActedOn},
	episode.ClassTransport:           {PropPerformedBy, PropObjectActedOn},
	episode.ClassSlide:               {PropPerformedBy, PropObjectActedOn},
	episode.ClassPutDown:             {PropPerformedBy, PropObjectActedOn},
}

func participantProp(class episode.EventClass, i int) string {
	props := participantProps[class]
	if len(props) == 0 {
		return PropParticipant
	}
	return props[min(i, len(props)-1)]
}

func isParticipantProp(p string) bool {
	switch p {
	case PropInContact, PropIsSupported, PropIsSupporting, PropPerformedBy, PropObjectActedOn, PropParticipant:
		return true
	}
	return false
}

// Property is one triple of an individual. Exactly one of Resource or Value
// is set; Datatype qualifies Value.
type Property struct {
	Predicate string `json:"predicate"`
	Resource  string `json:"resource,omitempty"`
	Datatype  string `json:"datatype,omitempty"`
	Value     string `json:"value,omitempty"`
}

// Individual is a named individual in the document.
type Individual struct {
	ID         string     `json:"@id"`
	Class      string     `json:"@type"`
	Properties []Property `json:"properties,omitempty"`
}

// Get returns the first property with predicate p.
func (in *Individual) Get(p string) (Property, bool) {
	for _, prop := range in.Properties {
		if prop.Predicate == p {
			return prop, true
		}
	}
	return Property{}, false
}

// All returns every property with predicate p, in order.
func (in *Individual) All(p string) []Property {
	var out []Property
	for _, prop := range in.Properties {
		if prop.Predicate == p {
			out = append(out, prop)
		}
	}
	return out
}

// Document is the ontology document body.
type Document struct {
	Context     map[string]string `json:"@context"`
	Ontology    string            `json:"ontology"`
	Individuals []Individual      `json:"individuals"`
}

func resource(p, iri string) Property {
	return Property{Predicate: p, Resource: iri}
}

func literal(p, datatype, value string) Property {
	return Property{Predicate: p, Datatype: PrefixXSD + ":" + datatype, Value: value}
}

func flag(p string) Property {
	return literal(p, "boolean", "true")
}

func logIRI(name string) string {
	return PrefixLog + ":" + name
}

// TimepointIRI names the timepoint individual for t. Seconds carry nine
// fractional digits so the timestamp survives a round trip exactly.
func TimepointIRI(t time.Duration) string {
	ns := t.Nanoseconds()
	sign := ""
	if ns < 0 {
		sign = "-"
		ns = -ns
	}
	return logIRI(fmt.Sprintf("timepoint_%s%d.%09d", sign, ns/1e9, ns%1e9))
}

// ParseTimepointIRI is the inverse of TimepointIRI.
func ParseTimepointIRI(iri string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(iri, logIRI("timepoint_"))
	if !ok {
		return 0, fmt.Errorf("not a timepoint: %q", iri)
	}

	neg := strings.HasPrefix(rest, "-")
	rest = strings.TrimPrefix(rest, "-")

	secStr, fracStr, ok := strings.Cut(rest, ".")
	if !ok || len(fracStr) != 9 {
		return 0, fmt.Errorf("malformed timepoint: %q", iri)
	}
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timepoint %q: %w", iri, err)
	}
	frac, err := strconv.ParseInt(fracStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timepoint %q: %w", iri, err)
	}

	d := time.Duration(sec*1e9 + frac)
	if neg {
		d = -d
	}
	return d, nil
}

// EventIRI names the individual of an event occurrence.
func EventIRI(occ *episode.EventOccurrence) string {
	return logIRI(occ.Class.String() + "_" + occ.ID)
}

// ObjectIRI names the individual of an entity.
func ObjectIRI(entityID string) string {
	return logIRI(entityID)
}

// ExperimentIRI names the experiment individual of an episode.
func ExperimentIRI(episodeID string) string {
	return logIRI("Experiment_" + episodeID)
}
