package writer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pipeline/writer"
	"github.com/papercomputeco/semlog/pkg/eventstream"
	"github.com/papercomputeco/semlog/pkg/sink"
	"github.com/papercomputeco/semlog/pkg/sink/inmemory"
	testutils "github.com/papercomputeco/semlog/pkg/utils/test"
)

func frame(episodeID string, ms int) sink.RawFrame {
	return sink.RawFrame{
		EpisodeID: episodeID,
		Timestamp: time.Duration(ms) * time.Millisecond,
		Body:      json.RawMessage(fmt.Sprintf(`{"t":%d}`, ms)),
	}
}

func document(episodeID string) *sink.Document {
	return &sink.Document{
		ID:        episodeID + "." + sink.KindExperiment,
		EpisodeID: episodeID,
		Kind:      sink.KindExperiment,
		Body:      json.RawMessage(`{}`),
	}
}

// orderSink records the sequence of writes it receives.
type orderSink struct {
	mu  sync.Mutex
	ops []string
}

func (s *orderSink) Name() string { return "order" }

func (s *orderSink) Write(_ context.Context, doc *sink.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "doc:"+doc.EpisodeID)
	return nil
}

func (s *orderSink) WriteBatch(_ context.Context, frames []sink.RawFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range frames {
		s.ops = append(s.ops, fmt.Sprintf("frame:%s:%d", f.EpisodeID, f.Timestamp.Milliseconds()))
	}
	return nil
}

func (s *orderSink) Close() error { return nil }

func (s *orderSink) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.EpisodePersistedEvent
	closed bool
}

func (p *recordingPublisher) PublishEpisode(_ context.Context, e *eventstream.EpisodePersistedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func (p *recordingPublisher) Events() []*eventstream.EpisodePersistedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.EpisodePersistedEvent(nil), p.events...)
}

func newWriter(c *writer.Config) *writer.Writer {
	logger, _ := zap.NewDevelopment()
	c.Logger = logger
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = time.Millisecond
		c.RetryMaxInterval = 5 * time.Millisecond
	}
	w, err := writer.New(c)
	Expect(err).NotTo(HaveOccurred())
	return w
}

var _ = Describe("Writer", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("New", func() {
		It("requires a sink", func() {
			_, err := writer.New(&writer.Config{})
			Expect(err).To(HaveOccurred())
		})

		It("rejects duplicate sink names", func() {
			_, err := writer.New(&writer.Config{Sinks: []sink.Sink{inmemory.New("a"), inmemory.New("a")}})
			Expect(err).To(MatchError(ContainSubstring("duplicate sink name")))
		})
	})

	Describe("Commit", func() {
		It("writes frames and documents to every sink", func() {
			a, b := inmemory.New("a"), inmemory.New("b")
			w := newWriter(&writer.Config{Sinks: []sink.Sink{a, b}, BatchSize: 2})

			for ms := range 5 {
				Expect(w.EnqueueFrame(ctx, frame("ep-1", ms*10))).To(Succeed())
			}
			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", TaskID: "stack", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())

			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.TaskID).To(Equal("stack"))
			Expect(report.Failed()).To(BeEmpty())
			Expect(report.Results).To(HaveLen(2))
			Expect(report.Results["a"].Status).To(Equal(writer.StatusCommitted))
			Expect(report.Results["a"].Frames).To(Equal(5))
			Expect(report.Results["a"].Documents).To(Equal(1))

			for _, s := range []*inmemory.Sink{a, b} {
				Expect(s.Frames("ep-1")).To(HaveLen(5))
				_, ok := s.Document("ep-1.experiment")
				Expect(ok).To(BeTrue())
			}
			Expect(w.Close()).To(Succeed())
		})

		It("flushes an episode completely before the next episode's writes", func() {
			s := &orderSink{}
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}, BatchSize: 10, BatchTimeout: time.Hour})

			Expect(w.EnqueueFrame(ctx, frame("ep-1", 10))).To(Succeed())
			Expect(w.EnqueueFrame(ctx, frame("ep-1", 20))).To(Succeed())
			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())
			Expect(w.EnqueueFrame(ctx, frame("ep-2", 10))).To(Succeed())
			Expect(w.Commit(ctx, writer.Episode{ID: "ep-2", Documents: []*sink.Document{document("ep-2")}})).To(Succeed())
			Expect(w.Close()).To(Succeed())

			Expect(s.Ops()).To(Equal([]string{
				"frame:ep-1:10",
				"frame:ep-1:20",
				"doc:ep-1",
				"frame:ep-2:10",
				"doc:ep-2",
			}))
		})
	})

	Describe("batching", func() {
		It("flushes full batches", func() {
			s := testutils.NewFlakySink("flaky", 0)
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}, BatchSize: 3, BatchTimeout: time.Hour})

			for ms := range 7 {
				Expect(w.EnqueueFrame(ctx, frame("ep-1", ms))).To(Succeed())
			}
			Eventually(s.BatchAttempts).Should(Equal(2))
			Consistently(s.BatchAttempts, 50*time.Millisecond).Should(Equal(2))

			Expect(w.Sync(ctx)).To(Succeed())
			Expect(s.BatchAttempts()).To(Equal(3))
			Expect(s.Frames("ep-1")).To(HaveLen(7))
			Expect(w.Close()).To(Succeed())
		})

		It("flushes a partial batch after the batch timeout", func() {
			s := inmemory.New("mem")
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}, BatchSize: 100, BatchTimeout: 10 * time.Millisecond})

			Expect(w.EnqueueFrame(ctx, frame("ep-1", 1))).To(Succeed())
			Eventually(func() []sink.RawFrame { return s.Frames("ep-1") }).Should(HaveLen(1))
			Expect(w.Close()).To(Succeed())
		})
	})

	Describe("failures", func() {
		It("fails only the sink that exhausts its retries", func() {
			healthy := inmemory.New("healthy")
			failing := testutils.NewFlakySink("failing", 0)
			failing.FailAlways = true

			w := newWriter(&writer.Config{
				Sinks:      []sink.Sink{healthy, failing},
				MaxRetries: 3,
				BatchSize:  10,
			})

			Expect(w.EnqueueFrame(ctx, frame("ep-1", 10))).To(Succeed())
			Expect(w.EnqueueFrame(ctx, frame("ep-1", 20))).To(Succeed())
			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())

			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Results["healthy"].Status).To(Equal(writer.StatusCommitted))
			Expect(healthy.Frames("ep-1")).To(HaveLen(2))
			_, ok := healthy.Document("ep-1.experiment")
			Expect(ok).To(BeTrue())

			failed := report.Failed()
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].Sink).To(Equal("failing"))
			Expect(failed[0].FailedFrames).To(Equal(2))
			Expect(failed[0].Err).To(MatchError(testutils.ErrFlaky))
			Expect(failing.BatchAttempts()).To(Equal(3))
			Expect(failing.WriteAttempts()).To(Equal(3))
			Expect(failed[0].Attempts).To(Equal(6))

			Expect(w.Close()).To(Succeed())
		})

		It("recovers from transient failures", func() {
			s := testutils.NewFlakySink("flaky", 2)
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}, MaxRetries: 5})

			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())
			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results["flaky"].Status).To(Equal(writer.StatusCommitted))
			Expect(report.Results["flaky"].Attempts).To(Equal(3))
			Expect(w.Close()).To(Succeed())
		})

		It("does not retry permanent failures", func() {
			s := testutils.NewFlakySink("broken", 0)
			s.FailAlways = true
			s.Permanent = true
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}, MaxRetries: 5})

			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())
			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results["broken"].Status).To(Equal(writer.StatusFailed))
			Expect(s.WriteAttempts()).To(Equal(1))
			Expect(w.Close()).To(Succeed())
		})
	})

	Describe("backpressure", func() {
		It("reports a timeout when a sink queue stays full", func() {
			s := testutils.NewFlakySink("slow", 0)
			s.Block = make(chan struct{})
			w := newWriter(&writer.Config{
				Sinks:          []sink.Sink{s},
				QueueSize:      1,
				BatchSize:      1,
				EnqueueTimeout: 10 * time.Millisecond,
			})

			Expect(w.EnqueueFrame(ctx, frame("ep-1", 1))).To(Succeed())
			Eventually(s.Attempts).Should(Equal(1))
			Expect(w.EnqueueFrame(ctx, frame("ep-1", 2))).To(Succeed())

			err := w.EnqueueFrame(ctx, frame("ep-1", 3))
			Expect(writer.IsBackpressure(err)).To(BeTrue())

			close(s.Block)
			Expect(w.Sync(ctx)).To(Succeed())
			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())
			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results["slow"].Dropped).To(Equal(1))
			Expect(report.Results["slow"].Status).To(Equal(writer.StatusFailed))
			Expect(s.Frames("ep-1")).To(HaveLen(2))
			Expect(w.Close()).To(Succeed())
		})
	})

	Describe("missed final writes", func() {
		var (
			s *testutils.FlakySink
			w *writer.Writer
		)

		// blockOn leaves the worker stuck writing ep-0 with one frame of
		// ep-1 queued, then commits ep-1 into the full queue.
		blockOn := func() error {
			s = testutils.NewFlakySink("slow", 0)
			s.Block = make(chan struct{})
			w = newWriter(&writer.Config{
				Sinks:          []sink.Sink{s},
				QueueSize:      1,
				BatchSize:      100,
				BatchTimeout:   time.Hour,
				EnqueueTimeout: 10 * time.Millisecond,
			})

			Expect(w.Commit(ctx, writer.Episode{ID: "ep-0", Documents: []*sink.Document{document("ep-0")}})).To(Succeed())
			Eventually(s.Attempts).Should(Equal(1))
			Expect(w.EnqueueFrame(ctx, frame("ep-1", 1))).To(Succeed())

			return w.Commit(ctx, writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}})
		}

		It("drops the held frames once the next episode starts", func() {
			err := blockOn()
			Expect(writer.IsBackpressure(err)).To(BeTrue())

			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results["slow"].Status).To(Equal(writer.StatusFailed))
			Expect(writer.IsBackpressure(report.Results["slow"].Err)).To(BeTrue())

			close(s.Block)
			Expect(w.Sync(ctx)).To(Succeed())
			Expect(s.Frames("ep-1")).To(BeEmpty())

			Expect(w.EnqueueFrame(ctx, frame("ep-2", 1))).To(Succeed())
			Expect(w.Commit(ctx, writer.Episode{ID: "ep-2", Documents: []*sink.Document{document("ep-2")}})).To(Succeed())

			report, err = w.Wait(ctx, "ep-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results["slow"].Status).To(Equal(writer.StatusCommitted))
			Expect(report.Results["slow"].Frames).To(Equal(1))

			Expect(w.Close()).To(Succeed())
			Expect(s.Frames("ep-1")).To(BeEmpty())
			Expect(s.Frames("ep-2")).To(HaveLen(1))
			_, ok := s.Document("ep-1.experiment")
			Expect(ok).To(BeFalse())
		})

		It("writes the held frames when the commit is resubmitted", func() {
			Expect(writer.IsBackpressure(blockOn())).To(BeTrue())

			close(s.Block)
			Expect(w.Sync(ctx)).To(Succeed())

			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())
			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results["slow"].Status).To(Equal(writer.StatusCommitted))
			Expect(report.Results["slow"].Frames).To(Equal(1))
			Expect(report.Results["slow"].Documents).To(Equal(1))
			Expect(report.Documents).To(Equal([]string{"ep-1.experiment"}))

			Expect(s.Frames("ep-1")).To(HaveLen(1))
			_, ok := s.Document("ep-1.experiment")
			Expect(ok).To(BeTrue())
			Expect(w.Close()).To(Succeed())
		})

		It("does not resubmit to sinks that already took the commit", func() {
			s := &orderSink{}
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}})

			ep := writer.Episode{ID: "ep-1", Documents: []*sink.Document{document("ep-1")}}
			Expect(w.Commit(ctx, ep)).To(Succeed())
			Expect(w.Commit(ctx, ep)).To(Succeed())
			Expect(w.Close()).To(Succeed())

			Expect(s.Ops()).To(Equal([]string{"doc:ep-1"}))
		})
	})

	Describe("Discard", func() {
		It("drops frames that were not flushed", func() {
			s := inmemory.New("mem")
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}, BatchSize: 100, BatchTimeout: time.Hour})

			Expect(w.EnqueueFrame(ctx, frame("ep-1", 1))).To(Succeed())
			Expect(w.Discard(ctx, "ep-1")).To(Succeed())

			report, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Aborted).To(BeTrue())
			Expect(report.Results["mem"].Status).To(Equal(writer.StatusDiscarded))
			Expect(s.Frames("ep-1")).To(BeEmpty())
			Expect(w.Close()).To(Succeed())
		})
	})

	Describe("notifications", func() {
		It("publishes once every sink finished and reports each result", func() {
			pub := &recordingPublisher{}
			var (
				mu      sync.Mutex
				results []writer.Result
			)
			w := newWriter(&writer.Config{
				Sinks:     []sink.Sink{inmemory.New("a"), inmemory.New("b")},
				Publisher: pub,
				OnResult: func(r writer.Result) {
					mu.Lock()
					defer mu.Unlock()
					results = append(results, r)
				},
			})

			Expect(w.Commit(ctx, writer.Episode{ID: "ep-1", TaskID: "t", Documents: []*sink.Document{document("ep-1")}})).To(Succeed())
			_, err := w.Wait(ctx, "ep-1")
			Expect(err).NotTo(HaveOccurred())

			Eventually(pub.Events).Should(HaveLen(1))
			event := pub.Events()[0]
			Expect(event.EventType).To(Equal(eventstream.EventTypeEpisodePersisted))
			Expect(event.Episode.ID).To(Equal("ep-1"))
			Expect(event.Episode.Documents).To(Equal([]string{"ep-1.experiment"}))
			Expect(event.Sinks).To(HaveLen(2))
			Expect(event.Failed()).To(BeFalse())

			mu.Lock()
			Expect(results).To(HaveLen(2))
			mu.Unlock()

			Expect(w.Close()).To(Succeed())
			Expect(pub.closed).To(BeTrue())
		})
	})

	Describe("Close", func() {
		It("closes sinks and rejects further writes", func() {
			s := inmemory.New("mem")
			w := newWriter(&writer.Config{Sinks: []sink.Sink{s}})

			Expect(w.Close()).To(Succeed())
			Expect(s.Closed()).To(BeTrue())
			Expect(w.EnqueueFrame(ctx, frame("ep-1", 1))).To(MatchError(writer.ErrWriterClosed))
			Expect(w.Sync(ctx)).To(MatchError(writer.ErrWriterClosed))
			Expect(w.Close()).To(Succeed())
		})

		It("reports unknown episodes", func() {
			w := newWriter(&writer.Config{Sinks: []sink.Sink{inmemory.New("mem")}})
			_, err := w.Wait(ctx, "nope")
			Expect(err).To(MatchError(writer.ErrUnknownEpisode))
			Expect(w.Close()).To(Succeed())
		})
	})
})
