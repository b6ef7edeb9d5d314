// Package s3 provides a sink storing episodes as objects in an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/papercomputeco/semlog/pkg/sink"
)

// API is the subset of the S3 client the sink uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds configuration for the S3 sink.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// Sink implements sink.Sink on S3. Objects are laid out as
// <prefix><episode>/<kind>.json and <prefix><episode>/frames/<first ns>.jsonl.
type Sink struct {
	client API
	bucket string
	prefix string
}

// New creates an S3 sink using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 sink bucket is empty")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, clientOpts), cfg), nil
}

// NewWithClient creates an S3 sink on an existing client.
func NewWithClient(client API, cfg Config) *Sink {
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

// Name implements sink.Sink.
func (s *Sink) Name() string {
	return "s3"
}

// DocumentKey returns the object key of a document.
func (s *Sink) DocumentKey(doc *sink.Document) string {
	return s.prefix + path.Join(doc.EpisodeID, doc.Kind+".json")
}

// FramesKey returns the object key of a batch starting with first.
func (s *Sink) FramesKey(first sink.RawFrame) string {
	return s.prefix + path.Join(first.EpisodeID, "frames", fmt.Sprintf("%020d.jsonl", first.Timestamp.Nanoseconds()))
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

	return s.put(ctx, s.DocumentKey(doc), "application/json", data)
}

// WriteBatch implements sink.Sink. Each episode's frames in the batch become
// one JSON lines object keyed by its first timestamp, so a retried batch
// overwrites the same object.
func (s *Sink) WriteBatch(ctx context.Context, frames []sink.RawFrame) error {
	start := 0
	for i := 1; i <= len(frames); i++ {
		if i < len(frames) && frames[i].EpisodeID == frames[start].EpisodeID {
			continue
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, f := range frames[start:i] {
			if err := enc.Encode(f); err != nil {
				return fmt.Errorf("encoding frame: %w", err)
			}
		}
		if err := s.put(ctx, s.FramesKey(frames[start]), "application/x-ndjson", buf.Bytes()); err != nil {
			return err
		}
		start = i
	}
	return nil
}

func (s *Sink) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err == nil {
		return nil
	}
	if permanent(err) {
		return fmt.Errorf("s3 put %s failed: %w", key, err)
	}
	return sink.Transient("s3", "put", err)
}

// permanent reports errors that no retry can fix.
func permanent(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "NoSuchBucket", "InvalidBucketName", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return true
		}
	}
	return false
}

// Close implements sink.Sink.
func (s *Sink) Close() error {
	return nil
}
