// Package gcs provides a sink storing episodes as objects in a Google Cloud
// Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/papercomputeco/semlog/pkg/sink"
)

// Config holds configuration for the GCS sink.
type Config struct {
	Bucket string
	Prefix string // Optional object name prefix
}

// Sink implements sink.Sink on GCS, using the same object layout as the S3
// sink.
type Sink struct {
	client *storage.Client
	prefix string

	open Opener
}

// Opener returns a writer for the named object. The object is committed when
// the writer is closed.
type Opener func(ctx context.Context, name, contentType string) io.WriteCloser

// New creates a GCS sink using Application Default Credentials.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs sink bucket is empty")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	bucket := client.Bucket(cfg.Bucket)
	return &Sink{
		client: client,
		prefix: cfg.Prefix,
		open: func(ctx context.Context, name, contentType string) io.WriteCloser {
			w := bucket.Object(name).NewWriter(ctx)
			w.ContentType = contentType
			return w
		},
	}, nil
}

// NewWithOpener creates a GCS sink writing objects through open.
func NewWithOpener(cfg Config, open Opener) *Sink {
	return &Sink{prefix: cfg.Prefix, open: open}
}

// Name implements sink.Sink.
func (s *Sink) Name() string {
	return "gcs"
}

// Write implements sink.Sink.
func (s *Sink) Write(ctx context.Context, doc *sink.Document) error {
	if doc == nil {
		return sink.ErrNilDocument
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	name := s.prefix + path.Join(doc.EpisodeID, doc.Kind+".json")
	return s.upload(ctx, name, "application/json", func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteBatch implements sink.Sink.
func (s *Sink) WriteBatch(ctx context.Context, frames []sink.RawFrame) error {
	start := 0
	for i := 1; i <= len(frames); i++ {
		if i < len(frames) && frames[i].EpisodeID == frames[start].EpisodeID {
			continue
		}

		batch := frames[start:i]
		first := batch[0]
		name := s.prefix + path.Join(first.EpisodeID, "frames", fmt.Sprintf("%020d.jsonl", first.Timestamp.Nanoseconds()))
		err := s.upload(ctx, name, "application/x-ndjson", func(w io.Writer) error {
			enc := json.NewEncoder(w)
			for _, f := range batch {
				if err := enc.Encode(f); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		start = i
	}
	return nil
}

func (s *Sink) upload(ctx context.Context, name, contentType string, write func(io.Writer) error) error {
	w := s.open(ctx, name, contentType)

	if err := write(w); err != nil {
		_ = w.Close()
		return classify("write", err)
	}
	if err := w.Close(); err != nil {
		return classify("close", err)
	}
	return nil
}

// classify marks server errors and throttling as transient.
func classify(op string, err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("gcs %s failed: %w", op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code < http.StatusInternalServerError &&
		gerr.Code != http.StatusTooManyRequests && gerr.Code != http.StatusRequestTimeout {
		return fmt.Errorf("gcs %s failed: %w", op, err)
	}

	return sink.Transient("gcs", op, err)
}

// Close closes the GCS client.
func (s *Sink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
