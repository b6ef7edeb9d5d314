package detector

import (
	"math"
	"slices"

	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
)

// world is the per-tick view the activation predicates evaluate against.
type world struct {
	byID map[string]observation.Observation
	ids  []string
}

func newWorld(obs []observation.Observation) *world {
	w := &world{
		byID: make(map[string]observation.Observation, len(obs)),
		ids:  make([]string, 0, len(obs)),
	}
	for _, o := range obs {
		w.byID[o.Entity] = o
		w.ids = append(w.ids, o.Entity)
	}
	slices.Sort(w.ids)
	return w
}

// touching reports whether either entity reports a contact with the other.
func (w *world) touching(a, b string) bool {
	if o, ok := w.byID[a]; ok && o.InContactWith(b) {
		return true
	}
	if o, ok := w.byID[b]; ok && o.InContactWith(a) {
		return true
	}
	return false
}

// contactPairs returns every sorted pair of entities in contact, each once.
func (w *world) contactPairs() [][2]string {
	seen := make(map[[2]string]struct{})
	var pairs [][2]string
	for _, id := range w.ids {
		for _, c := range w.byID[id].Contacts {
			p := sortedPair(id, c.Entity)
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func sortedPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// predicate reports every participant list for which its class holds on the
// current tick.
type predicate func(w *world, c *Config, hold func(participants ...string))

var predicates = map[episode.EventClass]predicate{
	episode.ClassContact:     contactHolds,
	episode.ClassSupportedBy: supportHolds,
	episode.ClassGrasp:       graspHolds,
	episode.ClassReach:       reachHolds,
	episode.ClassProximity:   proximityHolds,

	episode.ClassPreGraspPositioning: preGraspHolds,
	episode.ClassLift:                liftHolds,
	episode.ClassTransport:           transportHolds,
	episode.ClassSlide:               slideHolds,
	episode.ClassPutDown:             putDownHolds,
}

func contactHolds(w *world, _ *Config, hold func(...string)) {
	for _, p := range w.contactPairs() {
		hold(p[0], p[1])
	}
}

func supportHolds(w *world, c *Config, hold func(...string)) {
	for _, p := range w.contactPairs() {
		a, okA := w.byID[p[0]]
		b, okB := w.byID[p[1]]
		if !okA || !okB {
			continue
		}
		if math.Abs(a.Velocity.Z-b.Velocity.Z) > c.SupportVelocityTolerance {
			continue
		}
		switch {
		case a.Pose.Position.Z > b.Pose.Position.Z:
			hold(a.Entity, b.Entity)
		case b.Pose.Position.Z > a.Pose.Position.Z:
			hold(b.Entity, a.Entity)
		}
	}
}

// grasped returns every [manipulator, object] pair in which the manipulator
// touches the object with at least two distinct contact groups.
func (w *world) grasped(c *Config) [][2]string {
	var pairs [][2]string
	for _, m := range w.ids {
		if !c.IsManipulator(m) {
			continue
		}
		manip := w.byID[m]

		groups := make(map[string]map[string]struct{})
		add := func(object, group string) {
			if object == m || group == "" {
				return
			}
			if groups[object] == nil {
				groups[object] = make(map[string]struct{})
			}
			groups[object][group] = struct{}{}
		}

		for _, ct := range manip.Contacts {
			add(ct.Entity, ct.Group)
		}
		for _, id := range w.ids {
			for _, ct := range w.byID[id].Contacts {
				if ct.Entity == m {
					add(id, ct.Group)
				}
			}
		}

		objects := make([]string, 0, len(groups))
		for o, g := range groups {
			if len(g) >= 2 {
				objects = append(objects, o)
			}
		}
		slices.Sort(objects)
		for _, o := range objects {
			pairs = append(pairs, [2]string{m, o})
		}
	}
	return pairs
}

// reaching reports whether manipulator m reaches for o and returns their
// centre distance.
func (w *world) reaching(c *Config, m, o string) (float64, bool) {
	manip, obj := w.byID[m], w.byID[o]

	offset := obj.Pose.Position.Sub(manip.Pose.Position)
	dist := offset.Norm()
	if dist > c.ReachDistance {
		return dist, false
	}
	if w.touching(m, o) {
		return dist, true
	}

	var approach float64
	if dist > 0 {
		approach = manip.Velocity.Sub(obj.Velocity).Dot(offset) / dist
	}
	return dist, approach >= c.ReachMinSpeed
}

// touchesOtherThan reports whether id touches any entity except the one
// holding it. Contacts with entities absent from the frame count too.
func (w *world) touchesOtherThan(id, holder string) bool {
	for _, ct := range w.byID[id].Contacts {
		if ct.Entity != holder && ct.Entity != id {
			return true
		}
	}
	for _, other := range w.ids {
		if other != id && other != holder && w.byID[other].InContactWith(id) {
			return true
		}
	}
	return false
}

func graspHolds(w *world, c *Config, hold func(...string)) {
	for _, p := range w.grasped(c) {
		hold(p[0], p[1])
	}
}

func reachHolds(w *world, c *Config, hold func(...string)) {
	for _, m := range w.ids {
		if !c.IsManipulator(m) {
			continue
		}
		for _, o := range w.ids {
			if o == m {
				continue
			}
			if _, ok := w.reaching(c, m, o); ok {
				hold(m, o)
			}
		}
	}
}

func preGraspHolds(w *world, c *Config, hold func(...string)) {
	grasping := make(map[[2]string]struct{})
	for _, p := range w.grasped(c) {
		grasping[p] = struct{}{}
	}

	for _, m := range w.ids {
		if !c.IsManipulator(m) {
			continue
		}
		for _, o := range w.ids {
			if o == m {
				continue
			}
			if _, ok := grasping[[2]string{m, o}]; ok {
				continue
			}
			if dist, ok := w.reaching(c, m, o); ok && dist <= c.ProximityDistance {
				hold(m, o)
			}
		}
	}
}

// graspedMotion calls fn for every grasped pair with the object's velocity.
func graspedMotion(w *world, c *Config, fn func(m, o string, v observation.Vec3)) {
	for _, p := range w.grasped(c) {
		fn(p[0], p[1], w.byID[p[1]].Velocity)
	}
}

func horizontalSpeed(v observation.Vec3) float64 {
	return math.Hypot(v.X, v.Y)
}

func liftHolds(w *world, c *Config, hold func(...string)) {
	graspedMotion(w, c, func(m, o string, v observation.Vec3) {
		if v.Z >= c.MotionMinSpeed {
			hold(m, o)
		}
	})
}

func putDownHolds(w *world, c *Config, hold func(...string)) {
	graspedMotion(w, c, func(m, o string, v observation.Vec3) {
		if v.Z <= -c.MotionMinSpeed {
			hold(m, o)
		}
	})
}

func transportHolds(w *world, c *Config, hold func(...string)) {
	graspedMotion(w, c, func(m, o string, v observation.Vec3) {
		if horizontalSpeed(v) >= c.MotionMinSpeed && !w.touchesOtherThan(o, m) {
			hold(m, o)
		}
	})
}

func slideHolds(w *world, c *Config, hold func(...string)) {
	graspedMotion(w, c, func(m, o string, v observation.Vec3) {
		if horizontalSpeed(v) < c.MotionMinSpeed || math.Abs(v.Z) >= c.MotionMinSpeed {
			return
		}
		if w.touchesOtherThan(o, m) {
			hold(m, o)
		}
	})
}

func proximityHolds(w *world, c *Config, hold func(...string)) {
	for i, a := range w.ids {
		pa := w.byID[a].Pose.Position
		for _, b := range w.ids[i+1:] {
			if pa.Distance(w.byID[b].Pose.Position) <= c.ProximityDistance {
				hold(a, b)
			}
		}
	}
}
