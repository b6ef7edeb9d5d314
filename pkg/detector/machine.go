package detector

import (
	"time"

	"github.com/papercomputeco/semlog/pkg/episode"
)

type state uint8

const (
	idle state = iota
	active
)

type transition uint8

const (
	none transition = iota
	opened
	closed
)

// machine is the Idle/Active debounce state machine shared by every event
// class. One machine exists per (class, participants) key.
type machine struct {
	key          string
	class        episode.EventClass
	participants []string

	state    state
	onCount  int
	offCount int
	onStart  time.Duration
	offStart time.Duration

	// seq orders machines by the tick they opened on; larger is newer.
	seq uint64
	occ episode.EventOccurrence
}

// step feeds one tick into the machine. While idle, onStart tracks the first
// holding tick of the current run; while active, offStart tracks the first
// non-holding tick of the current run. step only reports a transition; the
// Set applies it with activate or deactivate.
func (m *machine) step(ts time.Duration, holds bool, debounceOn, debounceOff int) transition {
	switch m.state {
	case idle:
		if !holds {
			m.onCount = 0
			return none
		}
		if m.onCount == 0 {
			m.onStart = ts
		}
		m.onCount++
		if m.onCount >= debounceOn {
			return opened
		}
	case active:
		if holds {
			m.offCount = 0
			return none
		}
		if m.offCount == 0 {
			m.offStart = ts
		}
		m.offCount++
		if m.offCount >= debounceOff {
			return closed
		}
	}
	return none
}

func (m *machine) activate() {
	m.state = active
	m.onCount = 0
	m.offCount = 0
}

func (m *machine) deactivate() {
	m.state = idle
	m.onCount = 0
	m.offCount = 0
}

// pendingClose reports whether an active machine is inside an off-run and
// returns the end time it will close with.
func (m *machine) pendingClose() (time.Duration, bool) {
	if m.state != active || m.offCount == 0 {
		return 0, false
	}
	return m.offStart, true
}

// dormant reports whether the machine carries no state worth keeping.
func (m *machine) dormant() bool {
	return m.state == idle && m.onCount == 0
}
