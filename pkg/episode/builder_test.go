package episode_test

import (
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semlog/pkg/detector"
	"github.com/papercomputeco/semlog/pkg/entity"
	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
	"github.com/papercomputeco/semlog/pkg/sink"
)

// countingSerializer records every episode it serializes.
type countingSerializer struct {
	calls    int
	episodes []*episode.Episode
	err      error
}

func (s *countingSerializer) Serialize(ep *episode.Episode) (*sink.Document, error) {
	s.calls++
	s.episodes = append(s.episodes, ep)
	if s.err != nil {
		return nil, s.err
	}
	return &sink.Document{ID: ep.ID, EpisodeID: ep.ID, Kind: "test"}, nil
}

func closedAt(id string, class episode.EventClass, start, end time.Duration, participants ...string) episode.EventOccurrence {
	return episode.EventOccurrence{
		ID:           id,
		Class:        class,
		Participants: participants,
		Start:        start,
		End:          &end,
	}
}

var _ = Describe("Builder", func() {
	var (
		serializer *countingSerializer
		registry   *entity.Registry
		builder    *episode.Builder
	)

	BeforeEach(func() {
		serializer = &countingSerializer{}
		tags, err := entity.NewStaticResolver([]entity.Definition{
			{Handle: "gripper", Tags: []string{"Gripper"}},
			{Handle: "cup", Tags: []string{"Cup"}},
			{Handle: "table"},
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		registry = entity.NewRegistry(entity.HandleResolver{}, tags, nil)
		builder = episode.NewBuilder(episode.BuilderConfig{
			Serializer: serializer,
			Entities:   registry,
		})
	})

	resolve := func(handles ...string) {
		for _, h := range handles {
			_, err := registry.ResolveID(h)
			Expect(err).NotTo(HaveOccurred())
		}
	}

	Describe("Open", func() {
		It("assigns a UUID when no id is supplied", func() {
			ep, err := builder.Open(time.Second, episode.Meta{TaskID: "pick"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ep.Start).To(Equal(time.Second))
			Expect(ep.TaskID).To(Equal("pick"))

			_, err = uuid.Parse(ep.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("uses a supplied id", func() {
			ep, err := builder.Open(0, episode.Meta{ID: "run-7"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ep.ID).To(Equal("run-7"))
		})

		It("rejects a second open episode", func() {
			_, err := builder.Open(0, episode.Meta{})
			Expect(err).NotTo(HaveOccurred())

			_, err = builder.Open(time.Second, episode.Meta{})
			Expect(err).To(MatchError(episode.ErrEpisodeOpen))
			Expect(episode.IsStateError(err)).To(BeTrue())
		})
	})

	Describe("ingest", func() {
		It("reports events without an open episode", func() {
			err := builder.AddEvent(closedAt("e1", episode.ClassContact, 0, time.Second, "a", "b"))
			Expect(err).To(MatchError(episode.ErrNoOpenEpisode))

			err = builder.AddSnapshot(episode.Snapshot{Timestamp: time.Second})
			Expect(err).To(MatchError(episode.ErrNoOpenEpisode))
		})

		It("rejects occurrences that are still active", func() {
			_, _ = builder.Open(0, episode.Meta{})
			err := builder.AddEvent(episode.EventOccurrence{ID: "e1", Class: episode.ClassContact})
			Expect(err).To(HaveOccurred())
		})

		It("flags occurrences with untagged participants but keeps them", func() {
			_, _ = builder.Open(0, episode.Meta{})
			resolve("gripper", "cup", "table")

			Expect(builder.AddEvent(closedAt("e1", episode.ClassGrasp, 0, time.Second, "gripper", "cup"))).To(Succeed())
			Expect(builder.AddEvent(closedAt("e2", episode.ClassSupportedBy, 0, time.Second, "cup", "table"))).To(Succeed())
			Expect(builder.AddEvent(closedAt("e3", episode.ClassContact, 0, time.Second, "cup", "ghost"))).To(Succeed())

			res, err := builder.Close(2 * time.Second)
			Expect(err).NotTo(HaveOccurred())

			flags := map[string]bool{}
			for _, e := range res.Episode.Events {
				flags[e.ID] = e.Untagged
			}
			Expect(flags).To(Equal(map[string]bool{"e1": false, "e2": true, "e3": true}))
		})
	})

	Describe("Close", func() {
		It("orders events and snapshots chronologically only when serializing", func() {
			_, _ = builder.Open(0, episode.Meta{ID: "ep"})

			Expect(builder.AddEvent(closedAt("late", episode.ClassContact, 3*time.Second, 4*time.Second, "a", "b"))).To(Succeed())
			Expect(builder.AddEvent(closedAt("early", episode.ClassContact, time.Second, 2*time.Second, "a", "b"))).To(Succeed())
			Expect(builder.AddSnapshot(episode.Snapshot{Timestamp: time.Second})).To(Succeed())
			Expect(builder.AddSnapshot(episode.Snapshot{Timestamp: 0})).To(Succeed())

			current, ok := builder.Current()
			Expect(ok).To(BeTrue())
			Expect(current.Events[0].ID).To(Equal("early"))

			res, err := builder.Close(5 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(serializer.calls).To(Equal(1))

			ep := serializer.episodes[0]
			Expect(ep.End).To(Equal(5 * time.Second))
			Expect([]string{ep.Events[0].ID, ep.Events[1].ID}).To(Equal([]string{"early", "late"}))
			Expect(ep.Snapshots).To(Equal([]time.Duration{0, time.Second}))
			Expect(res.Document.EpisodeID).To(Equal("ep"))
		})

		It("is idempotent and returns the previous result", func() {
			_, _ = builder.Open(0, episode.Meta{})

			first, err := builder.Close(time.Second)
			Expect(err).NotTo(HaveOccurred())

			second, err := builder.Close(2 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(BeIdenticalTo(first))
			Expect(serializer.calls).To(Equal(1))
			Expect(builder.IsOpen()).To(BeFalse())
		})

		It("reports closing before any episode was opened", func() {
			_, err := builder.Close(time.Second)
			Expect(err).To(MatchError(episode.ErrNoOpenEpisode))
		})

		It("surfaces serialization failures in the result", func() {
			serializer.err = errors.New("ontology library unavailable")
			_, _ = builder.Open(0, episode.Meta{})

			res, err := builder.Close(time.Second)
			Expect(err).To(MatchError(ContainSubstring("ontology library unavailable")))
			Expect(res.Episode).NotTo(BeNil())
			Expect(res.Document).To(BeNil())
			Expect(builder.IsOpen()).To(BeFalse())
		})

		It("clears state for the next episode", func() {
			_, _ = builder.Open(0, episode.Meta{ID: "one"})
			resolve("cup")
			Expect(builder.AddEvent(closedAt("e1", episode.ClassContact, 0, time.Second, "cup", "table"))).To(Succeed())
			_, err := builder.Close(time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(serializer.episodes[0].Entities).To(HaveKey("cup"))

			_, err = builder.Open(2*time.Second, episode.Meta{ID: "two"})
			Expect(err).NotTo(HaveOccurred())
			res, err := builder.Close(3 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Episode.ID).To(Equal("two"))
			Expect(res.Episode.Events).To(BeEmpty())
			Expect(res.Episode.Entities).To(BeEmpty())
		})
	})

	Describe("Abort", func() {
		It("discards the partial episode unless flushing", func() {
			_, _ = builder.Open(0, episode.Meta{})

			res, err := builder.Abort(time.Second, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Episode.Aborted).To(BeTrue())
			Expect(res.Document).To(BeNil())
			Expect(serializer.calls).To(BeZero())
		})

		It("serializes the partial episode when flushing", func() {
			_, _ = builder.Open(0, episode.Meta{})

			res, err := builder.Abort(time.Second, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Document).NotTo(BeNil())
			Expect(serializer.episodes[0].Aborted).To(BeTrue())
		})

		It("keeps a grasp nested in its reach, both truncated", func() {
			set := detector.NewSet(detector.Config{
				DebounceOnTicks:   1,
				DebounceOffTicks:  1,
				ProximityDistance: 0.01,
				ReachDistance:     1,
				ReachMinSpeed:     0.05,
				Classes:           []episode.EventClass{episode.ClassReach, episode.ClassGrasp},
				IsManipulator:     func(id string) bool { return id == "gripper" },
			}, builder)
			builder.Track(set)

			_, _ = builder.Open(0, episode.Meta{})
			resolve("gripper", "cup")

			obs := func(ts time.Duration, x float64, grasping bool) []observation.Observation {
				g := observation.Observation{
					Timestamp: ts,
					Entity:    "gripper",
					Pose:      observation.Pose{Position: observation.Vec3{X: x}},
					Velocity:  observation.Vec3{X: 0.5},
				}
				if grasping {
					g.Contacts = []observation.Contact{{Entity: "cup", Group: "left"}, {Entity: "cup", Group: "right"}}
				}
				return []observation.Observation{g, {
					Timestamp: ts,
					Entity:    "cup",
					Pose:      observation.Pose{Position: observation.Vec3{X: 0.5}},
				}}
			}

			set.Observe(100*time.Millisecond, obs(100*time.Millisecond, 0, false))
			set.Observe(200*time.Millisecond, obs(200*time.Millisecond, 0.4, true))

			res, err := builder.Abort(300*time.Millisecond, true)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Episode.Events).To(HaveLen(2))
			reach, grasp := res.Episode.Events[0], res.Episode.Events[1]
			Expect(reach.Class).To(Equal(episode.ClassReach))
			Expect(grasp.Class).To(Equal(episode.ClassGrasp))
			Expect(reach.Truncated).To(BeTrue())
			Expect(grasp.Truncated).To(BeTrue())
			Expect(*reach.End).To(Equal(300 * time.Millisecond))
			Expect(*grasp.End).To(Equal(300 * time.Millisecond))
			Expect(grasp.ParentID).To(Equal(reach.ID))
			Expect(res.Episode.Children(reach.ID)).To(Equal([]string{grasp.ID}))
		})

		It("returns the aborted result to a later close", func() {
			_, _ = builder.Open(0, episode.Meta{})
			aborted, _ := builder.Abort(time.Second, false)

			res, err := builder.Close(2 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(BeIdenticalTo(aborted))
		})
	})
})

var _ = Describe("EventClass", func() {
	It("parses names case-insensitively", func() {
		c, err := episode.ParseEventClass("grasp")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(episode.ClassGrasp))

		c, err = episode.ParseEventClass("putdown")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(episode.ClassPutDown))

		_, err = episode.ParseEventClass("slicing")
		Expect(err).To(HaveOccurred())
	})

	It("marshals as text", func() {
		text, err := episode.ClassSupportedBy.MarshalText()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(text)).To(Equal("SupportedBy"))

		var c episode.EventClass
		Expect(c.UnmarshalText([]byte("Proximity"))).To(Succeed())
		Expect(c).To(Equal(episode.ClassProximity))
	})
})
