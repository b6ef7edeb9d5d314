package gcs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"

	"github.com/papercomputeco/semlog/pkg/sink"
	"github.com/papercomputeco/semlog/pkg/sink/gcs"
)

type object struct {
	bytes.Buffer
	contentType string
	closeErr    error
	committed   bool
}

func (o *object) Close() error {
	if o.closeErr != nil {
		return o.closeErr
	}
	o.committed = true
	return nil
}

var _ = Describe("Sink", func() {
	var (
		objects  map[string]*object
		closeErr error
		s        *gcs.Sink
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		objects = map[string]*object{}
		closeErr = nil
		s = gcs.NewWithOpener(gcs.Config{Prefix: "semlog/"}, func(_ context.Context, name, contentType string) io.WriteCloser {
			o := &object{contentType: contentType, closeErr: closeErr}
			objects[name] = o
			return o
		})
	})

	It("commits documents by episode and kind", func() {
		Expect(s.Write(ctx, &sink.Document{
			ID: "ep-1.episode", EpisodeID: "ep-1", Kind: sink.KindEpisode, Body: json.RawMessage(`{}`),
		})).To(Succeed())

		o, ok := objects["semlog/ep-1/episode.json"]
		Expect(ok).To(BeTrue())
		Expect(o.committed).To(BeTrue())
		Expect(o.contentType).To(Equal("application/json"))
	})

	It("splits a batch per episode", func() {
		Expect(s.WriteBatch(ctx, []sink.RawFrame{
			{EpisodeID: "ep-1", Timestamp: time.Second, Body: json.RawMessage(`{}`)},
			{EpisodeID: "ep-2", Timestamp: 2 * time.Second, Body: json.RawMessage(`{}`)},
		})).To(Succeed())

		Expect(objects).To(HaveKey("semlog/ep-1/frames/00000000001000000000.jsonl"))
		Expect(objects).To(HaveKey("semlog/ep-2/frames/00000000002000000000.jsonl"))
	})

	It("treats server errors as transient", func() {
		closeErr = &googleapi.Error{Code: http.StatusServiceUnavailable}
		err := s.Write(ctx, &sink.Document{ID: "d", EpisodeID: "ep-1", Kind: sink.KindEpisode})
		Expect(sink.IsTransient(err)).To(BeTrue())
	})

	It("treats client errors as permanent", func() {
		closeErr = &googleapi.Error{Code: http.StatusForbidden}
		err := s.Write(ctx, &sink.Document{ID: "d", EpisodeID: "ep-1", Kind: sink.KindEpisode})
		Expect(err).To(HaveOccurred())
		Expect(sink.IsTransient(err)).To(BeFalse())
	})

	It("treats a missing bucket as permanent", func() {
		closeErr = storage.ErrBucketNotExist
		err := s.WriteBatch(ctx, []sink.RawFrame{{EpisodeID: "ep-1"}})
		Expect(err).To(MatchError(storage.ErrBucketNotExist))
		Expect(sink.IsTransient(err)).To(BeFalse())
	})

	It("closes without a client", func() {
		Expect(s.Close()).To(Succeed())
	})
})
