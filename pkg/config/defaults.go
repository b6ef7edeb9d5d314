package config

const (
	defaultDebounceOnTicks          = 3
	defaultDebounceOffTicks         = 3
	defaultProximityDistance        = 0.25
	defaultReachDistance            = 0.6
	defaultReachMinSpeed            = 0.05
	defaultSupportVelocityTolerance = 0.01
	defaultMotionMinSpeed           = 0.02
	defaultManipulatorTag           = "manipulator"

	defaultSnapshotIntervalMs = 500

	defaultBatchSize        = 64
	defaultBatchTimeoutMs   = 250
	defaultMaxRetries       = 5
	defaultQueueSize        = 256
	defaultEnqueueTimeoutMs = 1000

	defaultDocumentKind = "experiment"
	defaultResolver     = "handle"

	defaultFileSinkDir = "episodes"
	defaultSQLitePath  = "semlog.db"
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "semlog"
	defaultKafkaTopic  = "semlog.episodes"

	defaultAPIListen = ":8090"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Detection: DetectionConfig{
			DebounceOnTicks:          defaultDebounceOnTicks,
			DebounceOffTicks:         defaultDebounceOffTicks,
			ProximityDistance:        defaultProximityDistance,
			ReachDistance:            defaultReachDistance,
			ReachMinSpeed:            defaultReachMinSpeed,
			SupportVelocityTolerance: defaultSupportVelocityTolerance,
			MotionMinSpeed:           defaultMotionMinSpeed,
			ManipulatorTag:           defaultManipulatorTag,
		},
		Snapshot: SnapshotConfig{
			IntervalMs: defaultSnapshotIntervalMs,
		},
		Writer: WriterConfig{
			BatchSize:        defaultBatchSize,
			BatchTimeoutMs:   defaultBatchTimeoutMs,
			MaxRetries:       defaultMaxRetries,
			QueueSize:        defaultQueueSize,
			EnqueueTimeoutMs: defaultEnqueueTimeoutMs,
		},
		Episode: EpisodeConfig{
			DocumentKind: defaultDocumentKind,
		},
		Entities: EntitiesConfig{
			Resolver: defaultResolver,
		},
		Sinks: SinksConfig{
			File: FileSinkConfig{
				Enabled: true,
				Dir:     defaultFileSinkDir,
			},
			SQLite: SQLiteSinkConfig{
				Path: defaultSQLitePath,
			},
			Redis: RedisSinkConfig{
				Addr:   defaultRedisAddr,
				Prefix: defaultRedisPrefix,
			},
		},
		EventStream: EventStreamConfig{
			Kafka: KafkaConfig{
				Topic: defaultKafkaTopic,
			},
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
	}
}
