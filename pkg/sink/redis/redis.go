// Package redis provides a sink that publishes episode data to Redis
// streams: documents are stored under a key and announced on the episodes
// stream, frames are appended to a per-episode stream.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papercomputeco/semlog/pkg/sink"
)

// Client is the subset of the Redis client the sink uses.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Config holds configuration for the Redis sink.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key. Defaults to "semlog".
	Prefix string

	// MaxLen caps each frame stream (approximately). Zero keeps everything.
	MaxLen int64
}

// Sink implements sink.Sink on Redis.
type Sink struct {
	client Client
	prefix string
	maxLen int64
}

// New connects to Redis.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewWithClient(rdb, cfg), nil
}

// NewWithClient creates a sink on an existing client.
func NewWithClient(client Client, cfg Config) *Sink {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "semlog"
	}
	return &Sink{client: client, prefix: prefix, maxLen: cfg.MaxLen}
}

// Name implements sink.Sink.
func (s *Sink) Name() string {
	return "redis"
}

// DocumentKey is the key a document body is stored under.
func (s *Sink) DocumentKey(id string) string {
	return s.prefix + ":doc:" + id
}

// EpisodesStream is the stream documents are announced on.
func (s *Sink) EpisodesStream() string {
	return s.prefix + ":episodes"
}

// FramesStream is the stream an episode's frames are appended to.
func (s *Sink) FramesStream(episodeID string) string {
	return s.prefix + ":frames:" + episodeID
}

// Write implements sink.Sink.
func (s *Sink) Write(ctx context.Context, doc *sink.Document) error {
	if doc == nil {
		return sink.ErrNilDocument
	}

	if err := s.client.Set(ctx, s.DocumentKey(doc.ID), []byte(doc.Body), 0).Err(); err != nil {
		return classify("set", err)
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.EpisodesStream(),
		Values: map[string]any{
			"id":         doc.ID,
			"episode_id": doc.EpisodeID,
			"kind":       doc.Kind,
			"key":        s.DocumentKey(doc.ID),
		},
	}).Err()
	return classify("xadd", err)
}

// WriteBatch implements sink.Sink.
func (s *Sink) WriteBatch(ctx context.Context, frames []sink.RawFrame) error {
	for _, f := range frames {
		err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.FramesStream(f.EpisodeID),
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"timestamp_ns": f.Timestamp.Nanoseconds(),
				"body":         []byte(f.Body),
			},
		}).Err()
		if err != nil {
			return classify("xadd", err)
		}
	}
	return nil
}

// Close implements sink.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

// classify treats everything but cancellation as a transient failure;
// network drops and server failovers are the common case.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return sink.Transient("redis", op, err)
}
