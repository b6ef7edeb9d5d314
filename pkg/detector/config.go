package detector

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/episode"
)

// Config configures a detector Set.
type Config struct {
	// DebounceOnTicks is the number of consecutive holding ticks needed to
	// open an occurrence.
	DebounceOnTicks int

	// DebounceOffTicks is the number of consecutive non-holding ticks needed
	// to close an occurrence.
	DebounceOffTicks int

	// ProximityDistance is the centre distance at or below which Proximity
	// holds.
	ProximityDistance float64

	// ReachDistance is the centre distance at or below which Reach may hold.
	ReachDistance float64

	// ReachMinSpeed is the minimum approach speed for Reach when the
	// manipulator is not touching the object.
	ReachMinSpeed float64

	// SupportVelocityTolerance bounds the relative vertical speed of a
	// supported entity and its supporter.
	SupportVelocityTolerance float64

	// MotionMinSpeed is the speed a grasped object must exceed for Lift,
	// Transport, Slide and PutDown. Zero uses DefaultMotionMinSpeed.
	MotionMinSpeed float64

	// Classes lists the enabled event classes. Empty enables all classes.
	Classes []episode.EventClass

	// Parents maps an event class to the classes its occurrences may be
	// nested under. Nil uses DefaultParents.
	Parents map[episode.EventClass][]episode.EventClass

	// IsManipulator reports whether an entity can grasp and reach. Nil
	// treats no entity as a manipulator.
	IsManipulator func(id string) bool

	// NewID generates occurrence identifiers. Defaults to random UUIDs.
	NewID func() string

	Logger *zap.Logger
}

// DefaultMotionMinSpeed is the MotionMinSpeed used when none is set.
const DefaultMotionMinSpeed = 0.02

// DefaultParents is the default nesting table.
func DefaultParents() map[episode.EventClass][]episode.EventClass {
	return map[episode.EventClass][]episode.EventClass{
		episode.ClassContact:     {episode.ClassProximity},
		episode.ClassSupportedBy: {episode.ClassContact},
		episode.ClassGrasp:       {episode.ClassReach},
		episode.ClassReach:       {episode.ClassProximity},

		episode.ClassPreGraspPositioning: {episode.ClassReach},
		episode.ClassLift:                {episode.ClassGrasp},
		episode.ClassTransport:           {episode.ClassGrasp},
		episode.ClassSlide:               {episode.ClassGrasp},
		episode.ClassPutDown:             {episode.ClassGrasp},
	}
}

func (c *Config) withDefaults() {
	if c.DebounceOnTicks < 1 {
		c.DebounceOnTicks = 1
	}
	if c.DebounceOffTicks < 1 {
		c.DebounceOffTicks = 1
	}
	if c.MotionMinSpeed <= 0 {
		c.MotionMinSpeed = DefaultMotionMinSpeed
	}
	if len(c.Classes) == 0 {
		c.Classes = episode.AllClasses()
	}
	if c.Parents == nil {
		c.Parents = DefaultParents()
	}
	if c.IsManipulator == nil {
		c.IsManipulator = func(string) bool { return false }
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
