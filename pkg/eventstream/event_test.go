package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semlog/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals EpisodePersistedEvent with expected top-level keys", func() {
		event := eventstream.EpisodePersistedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeEpisodePersisted,
			EventID:       "evt_123",
			EmittedAt:     time.Unix(1735689600, 0).UTC(),
			Episode: eventstream.EpisodeMeta{
				ID:        "ep-1",
				TaskID:    "stack-cups",
				Documents: []string{"ep-1.experiment"},
			},
			Sinks: []eventstream.SinkOutcome{
				{Sink: "file", Status: "committed", Documents: 1, Frames: 12, Attempts: 2},
			},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("episode"))
		Expect(got).To(HaveKey("sinks"))
	})

	It("reports failed sinks", func() {
		event := &eventstream.EpisodePersistedEvent{Sinks: []eventstream.SinkOutcome{
			{Sink: "file", Status: "committed"},
		}}
		Expect(event.Failed()).To(BeFalse())

		event.Sinks = append(event.Sinks, eventstream.SinkOutcome{Sink: "s3", Status: "failed", Error: "denied"})
		Expect(event.Failed()).To(BeTrue())
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeEpisodePersisted).To(Equal("semlog.episode.persisted"))
	})

	It("provides ErrNilEpisodeEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEpisodeEvent).To(MatchError("nil episode event"))
	})
})
