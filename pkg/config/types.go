package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent semlog configuration stored as config.toml
// in the .semlog/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Detection   DetectionConfig   `toml:"detection"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	Writer      WriterConfig      `toml:"writer"`
	Episode     EpisodeConfig     `toml:"episode"`
	Entities    EntitiesConfig    `toml:"entities"`
	Sinks       SinksConfig       `toml:"sinks"`
	EventStream EventStreamConfig `toml:"eventstream"`
	API         APIConfig         `toml:"api"`
}

// DetectionConfig holds event detector settings.
type DetectionConfig struct {
	DebounceOnTicks          uint     `toml:"debounce_on_ticks,omitempty"`
	DebounceOffTicks         uint     `toml:"debounce_off_ticks,omitempty"`
	ProximityDistance        float64  `toml:"proximity_distance,omitempty"`
	ReachDistance            float64  `toml:"reach_distance,omitempty"`
	ReachMinSpeed            float64  `toml:"reach_min_speed,omitempty"`
	SupportVelocityTolerance float64  `toml:"support_velocity_tolerance,omitempty"`
	MotionMinSpeed           float64  `toml:"motion_min_speed,omitempty"`
	Classes                  []string `toml:"classes,omitempty"`
	ManipulatorTag           string   `toml:"manipulator_tag,omitempty"`
}

// SnapshotConfig holds snapshot recorder settings.
type SnapshotConfig struct {
	IntervalMs       uint    `toml:"interval_ms,omitempty"`
	PoseTolerance    float64 `toml:"pose_tolerance,omitempty"`
	AngularTolerance float64 `toml:"angular_tolerance,omitempty"`
}

// WriterConfig holds storage writer settings.
type WriterConfig struct {
	BatchSize        uint `toml:"batch_size,omitempty"`
	BatchTimeoutMs   uint `toml:"batch_timeout_ms,omitempty"`
	MaxRetries       uint `toml:"max_retries,omitempty"`
	QueueSize        uint `toml:"queue_size,omitempty"`
	EnqueueTimeoutMs uint `toml:"enqueue_timeout_ms,omitempty"`
}

// EpisodeConfig holds episode lifecycle settings.
type EpisodeConfig struct {
	TaskID              string `toml:"task_id,omitempty"`
	DocumentKind        string `toml:"document_kind,omitempty"`
	FlushPartialOnAbort bool   `toml:"flush_partial_on_abort"`

	// Manipulators lists entity handles or identifiers that can reach and
	// grasp regardless of their tags.
	Manipulators []string `toml:"manipulators,omitempty"`
}

// EntitiesConfig holds entity identifier and tag resolution settings.
type EntitiesConfig struct {
	// Resolver is "handle" (identifier equals the handle) or "uuid"
	// (deterministic name-based UUIDs).
	Resolver string `toml:"resolver,omitempty"`

	// Registry is an optional YAML file of entity definitions and tags.
	Registry string `toml:"registry,omitempty"`
}

// SinksConfig holds the storage sinks. Every enabled sink receives every
// write.
type SinksConfig struct {
	File     FileSinkConfig     `toml:"file"`
	SQLite   SQLiteSinkConfig   `toml:"sqlite"`
	Postgres PostgresSinkConfig `toml:"postgres"`
	S3       S3SinkConfig       `toml:"s3"`
	GCS      GCSSinkConfig      `toml:"gcs"`
	Redis    RedisSinkConfig    `toml:"redis"`
}

// FileSinkConfig holds file sink settings. A relative Dir is resolved
// against the .semlog/ directory.
type FileSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir,omitempty"`
}

// SQLiteSinkConfig holds SQLite sink settings. A relative Path is resolved
// against the .semlog/ directory.
type SQLiteSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"`
}

// PostgresSinkConfig holds PostgreSQL sink settings.
type PostgresSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn,omitempty"`
}

// S3SinkConfig holds S3 sink settings.
type S3SinkConfig struct {
	Enabled  bool   `toml:"enabled"`
	Bucket   string `toml:"bucket,omitempty"`
	Region   string `toml:"region,omitempty"`
	Endpoint string `toml:"endpoint,omitempty"`
	Prefix   string `toml:"prefix,omitempty"`
}

// GCSSinkConfig holds Google Cloud Storage sink settings.
type GCSSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Bucket  string `toml:"bucket,omitempty"`
	Prefix  string `toml:"prefix,omitempty"`
}

// RedisSinkConfig holds Redis stream sink settings.
type RedisSinkConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr,omitempty"`
	Password string `toml:"password,omitempty"`
	DB       uint   `toml:"db,omitempty"`
	Prefix   string `toml:"prefix,omitempty"`
	MaxLen   uint   `toml:"max_len,omitempty"`
}

// EventStreamConfig holds episode notification settings.
type EventStreamConfig struct {
	Kafka KafkaConfig `toml:"kafka"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// APIConfig holds ingest API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error

	// list keys hold comma separated values.
	list bool
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'g', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if f < 0 {
				return fmt.Errorf("invalid value for %s: must not be negative", name)
			}
			*field(c) = f
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func listKey(field func(c *Config) *[]string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strings.Join(*field(c), ",") },
		set: func(c *Config, v string) error {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*field(c) = out
			return nil
		},
		list: true,
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"detection.debounce_on_ticks":          uintKey("detection.debounce_on_ticks", func(c *Config) *uint { return &c.Detection.DebounceOnTicks }),
	"detection.debounce_off_ticks":         uintKey("detection.debounce_off_ticks", func(c *Config) *uint { return &c.Detection.DebounceOffTicks }),
	"detection.proximity_distance":         floatKey("detection.proximity_distance", func(c *Config) *float64 { return &c.Detection.ProximityDistance }),
	"detection.reach_distance":             floatKey("detection.reach_distance", func(c *Config) *float64 { return &c.Detection.ReachDistance }),
	"detection.reach_min_speed":            floatKey("detection.reach_min_speed", func(c *Config) *float64 { return &c.Detection.ReachMinSpeed }),
	"detection.support_velocity_tolerance": floatKey("detection.support_velocity_tolerance", func(c *Config) *float64 { return &c.Detection.SupportVelocityTolerance }),
	"detection.motion_min_speed":           floatKey("detection.motion_min_speed", func(c *Config) *float64 { return &c.Detection.MotionMinSpeed }),
	"detection.classes":                    listKey(func(c *Config) *[]string { return &c.Detection.Classes }),
	"detection.manipulator_tag":            stringKey(func(c *Config) *string { return &c.Detection.ManipulatorTag }),

	"snapshot.interval_ms":       uintKey("snapshot.interval_ms", func(c *Config) *uint { return &c.Snapshot.IntervalMs }),
	"snapshot.pose_tolerance":    floatKey("snapshot.pose_tolerance", func(c *Config) *float64 { return &c.Snapshot.PoseTolerance }),
	"snapshot.angular_tolerance": floatKey("snapshot.angular_tolerance", func(c *Config) *float64 { return &c.Snapshot.AngularTolerance }),

	"writer.batch_size":         uintKey("writer.batch_size", func(c *Config) *uint { return &c.Writer.BatchSize }),
	"writer.batch_timeout_ms":   uintKey("writer.batch_timeout_ms", func(c *Config) *uint { return &c.Writer.BatchTimeoutMs }),
	"writer.max_retries":        uintKey("writer.max_retries", func(c *Config) *uint { return &c.Writer.MaxRetries }),
	"writer.queue_size":         uintKey("writer.queue_size", func(c *Config) *uint { return &c.Writer.QueueSize }),
	"writer.enqueue_timeout_ms": uintKey("writer.enqueue_timeout_ms", func(c *Config) *uint { return &c.Writer.EnqueueTimeoutMs }),

	"episode.task_id":                stringKey(func(c *Config) *string { return &c.Episode.TaskID }),
	"episode.document_kind":          stringKey(func(c *Config) *string { return &c.Episode.DocumentKind }),
	"episode.flush_partial_on_abort": boolKey("episode.flush_partial_on_abort", func(c *Config) *bool { return &c.Episode.FlushPartialOnAbort }),
	"episode.manipulators":           listKey(func(c *Config) *[]string { return &c.Episode.Manipulators }),

	"entities.resolver": stringKey(func(c *Config) *string { return &c.Entities.Resolver }),
	"entities.registry": stringKey(func(c *Config) *string { return &c.Entities.Registry }),

	"sinks.file.enabled":     boolKey("sinks.file.enabled", func(c *Config) *bool { return &c.Sinks.File.Enabled }),
	"sinks.file.dir":         stringKey(func(c *Config) *string { return &c.Sinks.File.Dir }),
	"sinks.sqlite.enabled":   boolKey("sinks.sqlite.enabled", func(c *Config) *bool { return &c.Sinks.SQLite.Enabled }),
	"sinks.sqlite.path":      stringKey(func(c *Config) *string { return &c.Sinks.SQLite.Path }),
	"sinks.postgres.enabled": boolKey("sinks.postgres.enabled", func(c *Config) *bool { return &c.Sinks.Postgres.Enabled }),
	"sinks.postgres.dsn":     stringKey(func(c *Config) *string { return &c.Sinks.Postgres.DSN }),
	"sinks.s3.enabled":       boolKey("sinks.s3.enabled", func(c *Config) *bool { return &c.Sinks.S3.Enabled }),
	"sinks.s3.bucket":        stringKey(func(c *Config) *string { return &c.Sinks.S3.Bucket }),
	"sinks.s3.region":        stringKey(func(c *Config) *string { return &c.Sinks.S3.Region }),
	"sinks.s3.endpoint":      stringKey(func(c *Config) *string { return &c.Sinks.S3.Endpoint }),
	"sinks.s3.prefix":        stringKey(func(c *Config) *string { return &c.Sinks.S3.Prefix }),
	"sinks.gcs.enabled":      boolKey("sinks.gcs.enabled", func(c *Config) *bool { return &c.Sinks.GCS.Enabled }),
	"sinks.gcs.bucket":       stringKey(func(c *Config) *string { return &c.Sinks.GCS.Bucket }),
	"sinks.gcs.prefix":       stringKey(func(c *Config) *string { return &c.Sinks.GCS.Prefix }),
	"sinks.redis.enabled":    boolKey("sinks.redis.enabled", func(c *Config) *bool { return &c.Sinks.Redis.Enabled }),
	"sinks.redis.addr":       stringKey(func(c *Config) *string { return &c.Sinks.Redis.Addr }),
	"sinks.redis.password":   stringKey(func(c *Config) *string { return &c.Sinks.Redis.Password }),
	"sinks.redis.db":         uintKey("sinks.redis.db", func(c *Config) *uint { return &c.Sinks.Redis.DB }),
	"sinks.redis.prefix":     stringKey(func(c *Config) *string { return &c.Sinks.Redis.Prefix }),
	"sinks.redis.max_len":    uintKey("sinks.redis.max_len", func(c *Config) *uint { return &c.Sinks.Redis.MaxLen }),

	"eventstream.kafka.enabled": boolKey("eventstream.kafka.enabled", func(c *Config) *bool { return &c.EventStream.Kafka.Enabled }),
	"eventstream.kafka.brokers": listKey(func(c *Config) *[]string { return &c.EventStream.Kafka.Brokers }),
	"eventstream.kafka.topic":   stringKey(func(c *Config) *string { return &c.EventStream.Kafka.Topic }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),
}

// orderedKeys lists the config keys in TOML section order.
var orderedKeys = []string{
	"detection.debounce_on_ticks",
	"detection.debounce_off_ticks",
	"detection.proximity_distance",
	"detection.reach_distance",
	"detection.reach_min_speed",
	"detection.support_velocity_tolerance",
	"detection.motion_min_speed",
	"detection.classes",
	"detection.manipulator_tag",
	"snapshot.interval_ms",
	"snapshot.pose_tolerance",
	"snapshot.angular_tolerance",
	"writer.batch_size",
	"writer.batch_timeout_ms",
	"writer.max_retries",
	"writer.queue_size",
	"writer.enqueue_timeout_ms",
	"episode.task_id",
	"episode.document_kind",
	"episode.flush_partial_on_abort",
	"episode.manipulators",
	"entities.resolver",
	"entities.registry",
	"sinks.file.enabled",
	"sinks.file.dir",
	"sinks.sqlite.enabled",
	"sinks.sqlite.path",
	"sinks.postgres.enabled",
	"sinks.postgres.dsn",
	"sinks.s3.enabled",
	"sinks.s3.bucket",
	"sinks.s3.region",
	"sinks.s3.endpoint",
	"sinks.s3.prefix",
	"sinks.gcs.enabled",
	"sinks.gcs.bucket",
	"sinks.gcs.prefix",
	"sinks.redis.enabled",
	"sinks.redis.addr",
	"sinks.redis.password",
	"sinks.redis.db",
	"sinks.redis.prefix",
	"sinks.redis.max_len",
	"eventstream.kafka.enabled",
	"eventstream.kafka.brokers",
	"eventstream.kafka.topic",
	"api.listen",
}
