package snapshot_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
	"github.com/papercomputeco/semlog/pkg/snapshot"
)

func entityAt(id string, x float64) observation.Observation {
	return observation.Observation{
		Entity: id,
		Pose: observation.Pose{
			Position:    observation.Vec3{X: x},
			Orientation: observation.IdentityQuat,
		},
	}
}

var _ = Describe("Recorder", func() {
	It("samples at the configured interval with strictly increasing timestamps", func() {
		rec := snapshot.NewRecorder(snapshot.Config{Interval: 500 * time.Millisecond})

		var stamps []time.Duration
		for ms := 0; ms <= 2000; ms += 100 {
			ts := time.Duration(ms) * time.Millisecond
			if s, ok := rec.Sample(ts, []observation.Observation{entityAt("cup", 0)}); ok {
				stamps = append(stamps, s.Timestamp)
			}
		}

		Expect(stamps).To(Equal([]time.Duration{
			0,
			500 * time.Millisecond,
			1000 * time.Millisecond,
			1500 * time.Millisecond,
			2000 * time.Millisecond,
		}))
	})

	It("does not retry missed ticks", func() {
		rec := snapshot.NewRecorder(snapshot.Config{Interval: 500 * time.Millisecond})

		_, ok := rec.Sample(0, nil)
		Expect(ok).To(BeTrue())

		// The simulation skips from 400ms to 1200ms.
		_, ok = rec.Sample(400*time.Millisecond, nil)
		Expect(ok).To(BeFalse())
		s, ok := rec.Sample(1200*time.Millisecond, nil)
		Expect(ok).To(BeTrue())
		Expect(s.Timestamp).To(Equal(1200 * time.Millisecond))

		_, ok = rec.Sample(1500*time.Millisecond, nil)
		Expect(ok).To(BeFalse())
	})

	It("never repeats a timestamp even with a zero interval", func() {
		rec := snapshot.NewRecorder(snapshot.Config{})

		_, ok := rec.Sample(time.Second, nil)
		Expect(ok).To(BeTrue())
		_, ok = rec.Sample(time.Second, nil)
		Expect(ok).To(BeFalse())
		_, ok = rec.Sample(500*time.Millisecond, nil)
		Expect(ok).To(BeFalse())
	})

	It("omits entities that moved less than the pose tolerance", func() {
		rec := snapshot.NewRecorder(snapshot.Config{PoseTolerance: 0.1})

		first, ok := rec.Sample(0, []observation.Observation{entityAt("cup", 0), entityAt("plate", 0)})
		Expect(ok).To(BeTrue())
		Expect(first.Entities).To(HaveLen(2))

		second, ok := rec.Sample(time.Second, []observation.Observation{entityAt("cup", 0.05), entityAt("plate", 0.5)})
		Expect(ok).To(BeTrue())
		Expect(second.Entities).To(HaveKey("plate"))
		Expect(second.Entities).NotTo(HaveKey("cup"))

		// Drift accumulates against the last recorded pose.
		third, _ := rec.Sample(2*time.Second, []observation.Observation{entityAt("cup", 0.12), entityAt("plate", 0.5)})
		Expect(third.Entities).To(HaveKey("cup"))
		Expect(third.Entities).NotTo(HaveKey("plate"))
	})

	It("records orientation changes beyond the angular tolerance", func() {
		rec := snapshot.NewRecorder(snapshot.Config{PoseTolerance: 0.1, AngularTolerance: 0.01})

		_, _ = rec.Sample(0, []observation.Observation{entityAt("cup", 0)})

		turned := entityAt("cup", 0)
		turned.Pose.Orientation = observation.Quat{W: 0.7071067811865476, Z: 0.7071067811865476}
		s, ok := rec.Sample(time.Second, []observation.Observation{turned})
		Expect(ok).To(BeTrue())
		Expect(s.Entities).To(HaveKey("cup"))
	})

	It("records every entity again after Reset", func() {
		rec := snapshot.NewRecorder(snapshot.Config{Interval: time.Second, PoseTolerance: 1})

		_, _ = rec.Sample(5*time.Second, []observation.Observation{entityAt("cup", 0)})
		rec.Reset()

		s, ok := rec.Sample(0, []observation.Observation{entityAt("cup", 0)})
		Expect(ok).To(BeTrue())
		Expect(s.Entities).To(HaveKey("cup"))
	})

	It("encodes snapshots as raw frames", func() {
		frame, err := snapshot.Frame("ep-1", episode.Snapshot{
			Timestamp: time.Second,
			Entities: map[string]episode.EntityState{
				"cup": {Velocity: observation.Vec3{Z: -1}},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.EpisodeID).To(Equal("ep-1"))
		Expect(frame.Timestamp).To(Equal(time.Second))

		var decoded episode.Snapshot
		Expect(json.Unmarshal(frame.Body, &decoded)).To(Succeed())
		Expect(decoded.Timestamp).To(Equal(time.Second))
		Expect(decoded.Entities["cup"].Velocity.Z).To(Equal(-1.0))
	})
})
