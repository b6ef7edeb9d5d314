// Package detector turns the per-tick observation stream into discrete,
// debounced event occurrences.
//
// Every event class shares one debounce state machine; classes differ only
// in their activation predicate. A Set keeps one machine per (class,
// participants) key, so two occurrences of the same class and participants
// never overlap in time.
package detector

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
)

// Emitter receives occurrence lifecycle notifications.
type Emitter interface {
	EventStarted(occ episode.EventOccurrence)
	EventEnded(occ episode.EventOccurrence)
}

// Set runs every enabled detector over the observation stream. It runs on
// the simulation tick thread and is not safe for concurrent use.
type Set struct {
	config  Config
	emitter Emitter
	logger  *zap.Logger

	machines map[string]*machine
	depth    map[episode.EventClass]int
	seq      uint64
}

// NewSet creates a Set delivering occurrences to emitter.
func NewSet(c Config, emitter Emitter) *Set {
	c.withDefaults()
	return &Set{
		config:   c,
		emitter:  emitter,
		logger:   c.Logger,
		machines: make(map[string]*machine),
		depth:    classDepths(c.Parents),
	}
}

// classDepths ranks classes by their distance from a root of the nesting
// table. Cycles in the table are cut where they are found.
func classDepths(parents map[episode.EventClass][]episode.EventClass) map[episode.EventClass]int {
	depths := make(map[episode.EventClass]int)
	visiting := make(map[episode.EventClass]bool)

	var visit func(c episode.EventClass) int
	visit = func(c episode.EventClass) int {
		if d, ok := depths[c]; ok {
			return d
		}
		if visiting[c] {
			return 0
		}
		visiting[c] = true
		d := 0
		for _, p := range parents[c] {
			d = max(d, visit(p)+1)
		}
		delete(visiting, c)
		depths[c] = d
		return d
	}

	for _, c := range episode.AllClasses() {
		visit(c)
	}
	return depths
}

func machineKey(class episode.EventClass, participants []string) string {
	return class.String() + "\x00" + strings.Join(participants, "\x00")
}

// Observe feeds one tick of observations into every detector. Parents of
// closing occurrences are resolved before any of them goes idle, so a child
// closing on the same tick as its parent still nests under it.
func (s *Set) Observe(ts time.Duration, obs []observation.Observation) {
	w := newWorld(obs)

	holding := make(map[string]struct{})
	for _, class := range s.config.Classes {
		pred, ok := predicates[class]
		if !ok {
			continue
		}
		pred(w, &s.config, func(participants ...string) {
			key := machineKey(class, participants)
			holding[key] = struct{}{}
			if _, exists := s.machines[key]; !exists {
				s.machines[key] = &machine{
					key:          key,
					class:        class,
					participants: slices.Clone(participants),
				}
			}
		})
	}

	var toOpen, toClose []*machine
	for key, m := range s.machines {
		_, holds := holding[key]
		switch m.step(ts, holds, s.config.DebounceOnTicks, s.config.DebounceOffTicks) {
		case opened:
			toOpen = append(toOpen, m)
		case closed:
			toClose = append(toClose, m)
		}
	}

	s.closeAll(toClose, func(m *machine) time.Duration { return m.offStart }, false)

	// Parents open before children so that a parent always carries the
	// lower sequence number.
	slices.SortFunc(toOpen, func(a, b *machine) int {
		return cmp.Or(cmp.Compare(s.depth[a.class], s.depth[b.class]), strings.Compare(a.key, b.key))
	})
	for _, m := range toOpen {
		s.open(m)
	}

	for key, m := range s.machines {
		if m.dormant() {
			delete(s.machines, key)
		}
	}
}

// closeAll closes machines newest first. Every parent is resolved while all
// of them are still active.
func (s *Set) closeAll(machines []*machine, endOf func(*machine) time.Duration, truncated bool) {
	slices.SortFunc(machines, func(a, b *machine) int { return cmp.Compare(b.seq, a.seq) })

	parents := make([]string, len(machines))
	for i, m := range machines {
		parents[i] = s.resolveParent(m, endOf(m), truncated)
	}
	for i, m := range machines {
		s.close(m, endOf(m), truncated, parents[i])
	}
}

func (s *Set) open(m *machine) {
	m.activate()
	s.seq++
	m.seq = s.seq
	m.occ = episode.EventOccurrence{
		ID:           s.config.NewID(),
		Class:        m.class,
		Participants: slices.Clone(m.participants),
		Start:        m.onStart,
	}

	s.logger.Debug("detector activated",
		zap.Stringer("class", m.class),
		zap.Strings("participants", m.participants),
		zap.Duration("start", m.onStart),
	)

	s.emitter.EventStarted(m.occ.Clone())
}

// close finalizes the machine's occurrence at end under parentID.
func (s *Set) close(m *machine, end time.Duration, truncated bool, parentID string) {
	m.deactivate()

	occ := m.occ
	occ.End = &end
	occ.Truncated = truncated
	occ.ParentID = parentID

	m.occ = episode.EventOccurrence{}

	s.logger.Debug("detector deactivated",
		zap.Stringer("class", m.class),
		zap.Strings("participants", m.participants),
		zap.Duration("end", end),
		zap.Bool("truncated", truncated),
	)

	s.emitter.EventEnded(occ)
}

// resolveParent picks the most recently opened active occurrence that was
// opened before the child, belongs to a parent-eligible class, includes the
// child's participants and whose interval contains [child start, end].
// An active parent already inside its off-run will close at the start of
// that run, so it only qualifies when that is not before end. Forced closes
// end every occurrence together and skip that check.
func (s *Set) resolveParent(child *machine, end time.Duration, forced bool) string {
	eligible := s.config.Parents[child.class]
	if len(eligible) == 0 {
		return ""
	}

	var best *machine
	for _, m := range s.machines {
		if m == child || m.state != active || m.seq >= child.seq {
			continue
		}
		if !slices.Contains(eligible, m.class) || m.occ.Start > child.occ.Start {
			continue
		}
		if !forced {
			if parentEnd, pending := m.pendingClose(); pending && parentEnd < end {
				continue
			}
		}
		if !isSubset(child.participants, m.participants) {
			continue
		}
		if best == nil || m.seq > best.seq {
			best = m
		}
	}

	if best == nil {
		return ""
	}
	return best.occ.ID
}

func isSubset(sub, super []string) bool {
	for _, p := range sub {
		if !slices.Contains(super, p) {
			return false
		}
	}
	return true
}

// ForceClose closes every active occurrence at end, newest first, marking
// them truncated, and resets all machines.
func (s *Set) ForceClose(end time.Duration) {
	var activeMachines []*machine
	for _, m := range s.machines {
		if m.state == active {
			activeMachines = append(activeMachines, m)
		}
	}

	s.closeAll(activeMachines, func(m *machine) time.Duration { return max(end, m.occ.Start) }, true)

	if len(activeMachines) > 0 {
		s.logger.Debug("force-closed active occurrences",
			zap.Int("count", len(activeMachines)),
			zap.Duration("end", end),
		)
	}

	s.Reset()
}

// Active returns copies of the currently active occurrences ordered by
// start time.
func (s *Set) Active() []episode.EventOccurrence {
	var out []episode.EventOccurrence
	for _, m := range s.machines {
		if m.state == active {
			out = append(out, m.occ.Clone())
		}
	}
	slices.SortFunc(out, func(a, b episode.EventOccurrence) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), strings.Compare(a.ID, b.ID))
	})
	return out
}

// Reset discards every machine without emitting anything.
func (s *Set) Reset() {
	clear(s.machines)
	s.seq = 0
}
