// Package snapshot samples raw world state at a fixed simulation-time
// cadence, independent of detected events.
package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
	"github.com/papercomputeco/semlog/pkg/sink"
)

// Config configures a Recorder.
type Config struct {
	// Interval is the minimum simulation time between two snapshots. Zero
	// samples every tick.
	Interval time.Duration

	// PoseTolerance omits entities whose position moved less than this
	// distance since they were last recorded. Zero records every entity.
	PoseTolerance float64

	// AngularTolerance omits entities whose orientation turned less than
	// this many radians since they were last recorded. Only consulted when
	// PoseTolerance is set.
	AngularTolerance float64
}

// Recorder produces snapshots with strictly increasing timestamps. Missed
// ticks are not retried; the next sample is taken on the first tick at least
// Interval after the previous one. Not safe for concurrent use.
type Recorder struct {
	config Config

	last    time.Duration
	sampled bool
	poses   map[string]observation.Pose
}

// NewRecorder creates a Recorder.
func NewRecorder(c Config) *Recorder {
	return &Recorder{
		config: c,
		poses:  make(map[string]observation.Pose),
	}
}

// Sample returns a snapshot of obs when one is due at ts.
func (r *Recorder) Sample(ts time.Duration, obs []observation.Observation) (episode.Snapshot, bool) {
	if r.sampled && (ts <= r.last || ts-r.last < r.config.Interval) {
		return episode.Snapshot{}, false
	}

	snap := episode.Snapshot{
		Timestamp: ts,
		Entities:  make(map[string]episode.EntityState, len(obs)),
	}
	for _, o := range obs {
		if r.sampled && !r.moved(o) {
			continue
		}
		snap.Entities[o.Entity] = episode.EntityState{
			Pose:     o.Pose,
			Velocity: o.Velocity,
		}
		r.poses[o.Entity] = o.Pose
	}

	r.last = ts
	r.sampled = true
	return snap, true
}

func (r *Recorder) moved(o observation.Observation) bool {
	if r.config.PoseTolerance <= 0 {
		return true
	}
	prev, ok := r.poses[o.Entity]
	if !ok {
		return true
	}
	if prev.Position.Distance(o.Pose.Position) >= r.config.PoseTolerance {
		return true
	}
	return angle(prev.Orientation, o.Pose.Orientation) > r.config.AngularTolerance
}

// angle returns the rotation in radians between two unit quaternions.
func angle(a, b observation.Quat) float64 {
	dot := math.Abs(a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z)
	return 2 * math.Acos(min(dot, 1))
}

// Reset forgets the last sample, so the next Sample records every entity.
func (r *Recorder) Reset() {
	r.sampled = false
	r.last = 0
	clear(r.poses)
}

// Frame encodes a snapshot as a raw frame of episodeID.
func Frame(episodeID string, s episode.Snapshot) (sink.RawFrame, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return sink.RawFrame{}, fmt.Errorf("encoding snapshot at %s: %w", s.Timestamp, err)
	}
	return sink.RawFrame{
		EpisodeID: episodeID,
		Timestamp: s.Timestamp,
		Body:      body,
	}, nil
}
