package episode

import (
	"fmt"
	"strings"
)

// EventClass is the kind of a symbolic event.
type EventClass uint8

const (
	// ClassContact holds while two entities touch. Participants are the
	// sorted pair.
	ClassContact EventClass = iota + 1

	// ClassSupportedBy holds while one entity rests on another.
	// Participants are [supported, supporter].
	ClassSupportedBy

	// ClassGrasp holds while a manipulator touches an object with at least
	// two distinct contact groups. Participants are [manipulator, object].
	ClassGrasp

	// ClassReach holds while a manipulator is near an object and either
	// approaching it or touching it. Participants are [manipulator, object].
	ClassReach

	// ClassProximity holds while two entities are within the proximity
	// distance. Participants are the sorted pair.
	ClassProximity

	// ClassPreGraspPositioning holds while a reaching manipulator is within
	// the proximity distance of the object but not yet grasping it.
	// Participants are [manipulator, object].
	ClassPreGraspPositioning

	// ClassLift holds while a grasped object rises. Participants are
	// [manipulator, object].
	ClassLift

	// ClassTransport holds while a grasped object moves horizontally without
	// touching anything but the manipulator. Participants are
	// [manipulator, object].
	ClassTransport

	// ClassSlide holds while a grasped object moves horizontally along a
	// surface it touches. Participants are [manipulator, object].
	ClassSlide

	// ClassPutDown holds while a grasped object is lowered. Participants are
	// [manipulator, object].
	ClassPutDown
)

var classNames = map[EventClass]string{
	ClassContact:     "Contact",
	ClassSupportedBy: "SupportedBy",
	ClassGrasp:       "Grasp",
	ClassReach:       "Reach",
	ClassProximity:   "Proximity",

	ClassPreGraspPositioning: "PreGraspPositioning",
	ClassLift:                "Lift",
	ClassTransport:           "Transport",
	ClassSlide:               "Slide",
	ClassPutDown:             "PutDown",
}

// AllClasses returns every known event class.
func AllClasses() []EventClass {
	return []EventClass{
		ClassContact, ClassSupportedBy, ClassGrasp, ClassReach, ClassProximity,
		ClassPreGraspPositioning, ClassLift, ClassTransport, ClassSlide, ClassPutDown,
	}
}

// PickAndPlaceClasses returns the classes that describe a grasped object
// being moved, together with the positioning before the grasp.
func PickAndPlaceClasses() []EventClass {
	return []EventClass{ClassPreGraspPositioning, ClassLift, ClassTransport, ClassSlide, ClassPutDown}
}

func (c EventClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("EventClass(%d)", c)
}

// Valid reports whether c is a known event class.
func (c EventClass) Valid() bool {
	_, ok := classNames[c]
	return ok
}

// ParseEventClass parses a class name case-insensitively.
func ParseEventClass(s string) (EventClass, error) {
	for c, name := range classNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown event class %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c EventClass) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown event class %d", c)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *EventClass) UnmarshalText(text []byte) error {
	parsed, err := ParseEventClass(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
