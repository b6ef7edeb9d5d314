package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pipeline/writer"
	"github.com/papercomputeco/semlog/pkg/config"
	"github.com/papercomputeco/semlog/pkg/detector"
	"github.com/papercomputeco/semlog/pkg/dotdir"
	"github.com/papercomputeco/semlog/pkg/entity"
	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/eventstream"
	"github.com/papercomputeco/semlog/pkg/eventstream/kafka"
	"github.com/papercomputeco/semlog/pkg/eventstream/nop"
	"github.com/papercomputeco/semlog/pkg/owl"
	"github.com/papercomputeco/semlog/pkg/sink"
	"github.com/papercomputeco/semlog/pkg/sink/file"
	"github.com/papercomputeco/semlog/pkg/sink/gcs"
	"github.com/papercomputeco/semlog/pkg/sink/postgres"
	"github.com/papercomputeco/semlog/pkg/sink/redis"
	"github.com/papercomputeco/semlog/pkg/sink/s3"
	"github.com/papercomputeco/semlog/pkg/sink/sqlite"
	"github.com/papercomputeco/semlog/pkg/snapshot"
)

// DetectorConfig converts the detection settings.
func DetectorConfig(c config.DetectionConfig) (detector.Config, error) {
	classes := make([]episode.EventClass, 0, len(c.Classes))
	for _, name := range c.Classes {
		class, err := episode.ParseEventClass(name)
		if err != nil {
			return detector.Config{}, err
		}
		classes = append(classes, class)
	}

	return detector.Config{
		DebounceOnTicks:          int(c.DebounceOnTicks),
		DebounceOffTicks:         int(c.DebounceOffTicks),
		ProximityDistance:        c.ProximityDistance,
		ReachDistance:            c.ReachDistance,
		ReachMinSpeed:            c.ReachMinSpeed,
		SupportVelocityTolerance: c.SupportVelocityTolerance,
		MotionMinSpeed:           c.MotionMinSpeed,
		Classes:                  classes,
	}, nil
}

// SnapshotConfig converts the snapshot settings.
func SnapshotConfig(c config.SnapshotConfig) snapshot.Config {
	return snapshot.Config{
		Interval:         time.Duration(c.IntervalMs) * time.Millisecond,
		PoseTolerance:    c.PoseTolerance,
		AngularTolerance: c.AngularTolerance,
	}
}

// WriterConfig converts the writer settings. Sinks and Publisher are left
// for the caller.
func WriterConfig(c config.WriterConfig) writer.Config {
	return writer.Config{
		BatchSize:      int(c.BatchSize),
		BatchTimeout:   time.Duration(c.BatchTimeoutMs) * time.Millisecond,
		MaxRetries:     c.MaxRetries,
		QueueSize:      c.QueueSize,
		EnqueueTimeout: time.Duration(c.EnqueueTimeoutMs) * time.Millisecond,
	}
}

// Resolvers builds the entity identifier and tag resolvers. Relative
// registry paths resolve against dir.
func Resolvers(c config.EntitiesConfig, dir string) (entity.IDResolver, entity.TagResolver, error) {
	var ids entity.IDResolver
	switch c.Resolver {
	case "", "handle":
		ids = entity.HandleResolver{}
	case "uuid":
		ids = entity.NewUUIDResolver()
	default:
		return nil, nil, fmt.Errorf("unknown entity resolver %q", c.Resolver)
	}

	if c.Registry == "" {
		return ids, entity.NoTags{}, nil
	}

	path, err := dotdir.NewManager().Resolve(dir, c.Registry)
	if err != nil {
		return nil, nil, err
	}

	static, err := entity.LoadStaticResolver(path, ids)
	if err != nil {
		return nil, nil, err
	}

	return static, static, nil
}

// OpenSinks opens every enabled sink. Relative file and SQLite paths resolve
// against dir. On error the sinks opened so far are closed.
func OpenSinks(ctx context.Context, c config.SinksConfig, dir string, logger *zap.Logger) ([]sink.Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ddm := dotdir.NewManager()
	var sinks []sink.Sink

	fail := func(err error) ([]sink.Sink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	if c.File.Enabled {
		path, err := ddm.Resolve(dir, c.File.Dir)
		if err != nil {
			return fail(err)
		}
		s, err := file.New(path)
		if err != nil {
			return fail(fmt.Errorf("failed to create file sink: %w", err))
		}
		logger.Info("using file sink", zap.String("dir", path))
		sinks = append(sinks, s)
	}

	if c.SQLite.Enabled {
		path, err := ddm.Resolve(dir, c.SQLite.Path)
		if err != nil {
			return fail(err)
		}
		s, err := sqlite.New(path)
		if err != nil {
			return fail(fmt.Errorf("failed to create SQLite sink: %w", err))
		}
		logger.Info("using SQLite sink", zap.String("path", path))
		sinks = append(sinks, s)
	}

	if c.Postgres.Enabled {
		s, err := postgres.New(ctx, c.Postgres.DSN)
		if err != nil {
			return fail(fmt.Errorf("failed to create PostgreSQL sink: %w", err))
		}
		logger.Info("using PostgreSQL sink")
		sinks = append(sinks, s)
	}

	if c.S3.Enabled {
		s, err := s3.New(ctx, s3.Config{
			Bucket:   c.S3.Bucket,
			Region:   c.S3.Region,
			Endpoint: c.S3.Endpoint,
			Prefix:   c.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create S3 sink: %w", err))
		}
		logger.Info("using S3 sink", zap.String("bucket", c.S3.Bucket))
		sinks = append(sinks, s)
	}

	if c.GCS.Enabled {
		s, err := gcs.New(ctx, gcs.Config{
			Bucket: c.GCS.Bucket,
			Prefix: c.GCS.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create GCS sink: %w", err))
		}
		logger.Info("using GCS sink", zap.String("bucket", c.GCS.Bucket))
		sinks = append(sinks, s)
	}

	if c.Redis.Enabled {
		s, err := redis.New(ctx, redis.Config{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       int(c.Redis.DB),
			Prefix:   c.Redis.Prefix,
			MaxLen:   int64(c.Redis.MaxLen),
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create Redis sink: %w", err))
		}
		logger.Info("using Redis sink", zap.String("addr", c.Redis.Addr))
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		return nil, errors.New("no sink enabled")
	}

	return sinks, nil
}

// OpenPublisher returns the Kafka publisher when enabled and a no-op
// publisher otherwise.
func OpenPublisher(c config.EventStreamConfig, logger *zap.Logger) (eventstream.Publisher, error) {
	if !c.Kafka.Enabled {
		return nop.NewPublisher(), nil
	}

	p, err := kafka.NewPublisher(kafka.Config{
		Brokers: c.Kafka.Brokers,
		Topic:   c.Kafka.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}

	if logger != nil {
		logger.Info("publishing episode events to Kafka",
			zap.Strings("brokers", c.Kafka.Brokers),
			zap.String("topic", c.Kafka.Topic),
		)
	}

	return p, nil
}

// Open validates cfg and assembles a Session with its writer, sinks and
// publisher. Relative paths resolve against dir, the .semlog/ directory.
// Shutdown releases everything Open created.
func Open(ctx context.Context, cfg *config.Config, dir string, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	detection, err := DetectorConfig(cfg.Detection)
	if err != nil {
		return nil, err
	}

	serializer, err := owl.ForKind(cfg.Episode.DocumentKind)
	if err != nil {
		return nil, err
	}

	ids, tags, err := Resolvers(cfg.Entities, dir)
	if err != nil {
		return nil, err
	}

	sinks, err := OpenSinks(ctx, cfg.Sinks, dir, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := OpenPublisher(cfg.EventStream, logger)
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	wc := WriterConfig(cfg.Writer)
	wc.Sinks = sinks
	wc.Publisher = publisher
	wc.Logger = logger

	w, err := writer.New(&wc)
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		publisher.Close()
		return nil, fmt.Errorf("could not create writer: %w", err)
	}

	return New(Config{
		Detection:           detection,
		Snapshot:            SnapshotConfig(cfg.Snapshot),
		Serializer:          serializer,
		IDs:                 ids,
		Tags:                tags,
		ManipulatorTag:      cfg.Detection.ManipulatorTag,
		Manipulators:        cfg.Episode.Manipulators,
		FlushPartialOnAbort: cfg.Episode.FlushPartialOnAbort,
		TaskID:              cfg.Episode.TaskID,
		Writer:              w,
		Logger:              logger,
	}), nil
}

// ApplyConfig hands the detection and snapshot settings of cfg to the
// session. They take effect from the next episode.
func (s *Session) ApplyConfig(cfg *config.Config) error {
	detection, err := DetectorConfig(cfg.Detection)
	if err != nil {
		return err
	}

	tag := cfg.Detection.ManipulatorTag

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &reconfig{
		detection:      detection,
		snapshot:       SnapshotConfig(cfg.Snapshot),
		manipulatorTag: &tag,
		manipulators:   slices.Clone(cfg.Episode.Manipulators),
	}
	return nil
}
