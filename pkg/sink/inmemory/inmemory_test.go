package inmemory_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semlog/pkg/sink"
	"github.com/papercomputeco/semlog/pkg/sink/inmemory"
)

var _ = Describe("Sink", func() {
	var (
		s   *inmemory.Sink
		ctx context.Context
	)

	BeforeEach(func() {
		s = inmemory.New("")
		ctx = context.Background()
	})

	It("defaults its name", func() {
		Expect(s.Name()).To(Equal("inmemory"))
		Expect(inmemory.New("mirror").Name()).To(Equal("mirror"))
	})

	It("rejects a nil document", func() {
		Expect(s.Write(ctx, nil)).To(MatchError(sink.ErrNilDocument))
	})

	It("overwrites documents with the same ID and keeps first-write order", func() {
		Expect(s.Write(ctx, &sink.Document{ID: "a", EpisodeID: "ep-1", Body: json.RawMessage(`1`)})).To(Succeed())
		Expect(s.Write(ctx, &sink.Document{ID: "b", EpisodeID: "ep-2", Body: json.RawMessage(`2`)})).To(Succeed())
		Expect(s.Write(ctx, &sink.Document{ID: "a", EpisodeID: "ep-1", Body: json.RawMessage(`3`)})).To(Succeed())

		docs := s.Documents()
		Expect(docs).To(HaveLen(2))
		Expect(docs[0].ID).To(Equal("a"))
		Expect(string(docs[0].Body)).To(Equal("3"))
		Expect(s.Episodes()).To(Equal([]string{"ep-1", "ep-2"}))
	})

	It("copies written bodies", func() {
		body := json.RawMessage(`{"x":1}`)
		Expect(s.Write(ctx, &sink.Document{ID: "a", Body: body})).To(Succeed())
		body[2] = 'y'

		doc, ok := s.Document("a")
		Expect(ok).To(BeTrue())
		Expect(string(doc.Body)).To(Equal(`{"x":1}`))
	})

	It("filters frames by episode", func() {
		Expect(s.WriteBatch(ctx, []sink.RawFrame{
			{EpisodeID: "ep-1", Timestamp: time.Millisecond},
			{EpisodeID: "ep-2", Timestamp: time.Millisecond},
			{EpisodeID: "ep-1", Timestamp: 2 * time.Millisecond},
		})).To(Succeed())

		Expect(s.Frames("")).To(HaveLen(3))
		frames := s.Frames("ep-1")
		Expect(frames).To(HaveLen(2))
		Expect(frames[1].Timestamp).To(Equal(2 * time.Millisecond))
	})

	It("records Close", func() {
		Expect(s.Closed()).To(BeFalse())
		Expect(s.Close()).To(Succeed())
		Expect(s.Closed()).To(BeTrue())
	})
})
