package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --task
// on both "semlog replay" and "semlog serve").
type Flag struct {
	// Name is the long flag name (e.g. "batch-size").
	Name string

	// Shorthand is the one-letter short flag (e.g. "t"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "writer.batch_size").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag, AddBoolFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen           = "listen"
	FlagDebounceOn       = "debounce-on"
	FlagDebounceOff      = "debounce-off"
	FlagSnapshotInterval = "snapshot-interval-ms"
	FlagBatchSize        = "batch-size"
	FlagBatchTimeout     = "batch-timeout-ms"
	FlagMaxRetries       = "max-retries"
	FlagTask             = "task"
	FlagDocumentKind     = "document-kind"
	FlagOut              = "out"
	FlagSQLite           = "sqlite"
	FlagRegistry         = "registry"
	FlagFlushPartial     = "flush-partial"
	FlagManipulators     = "manipulators"
)

// Flags is the registry shared by every semlog command.
var Flags = FlagSet{
	FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the ingest API to listen on",
	},
	FlagDebounceOn: {
		Name:        "debounce-on",
		ViperKey:    "detection.debounce_on_ticks",
		Description: "Consecutive ticks a predicate must hold before an event starts",
	},
	FlagDebounceOff: {
		Name:        "debounce-off",
		ViperKey:    "detection.debounce_off_ticks",
		Description: "Consecutive ticks a predicate must fail before an event ends",
	},
	FlagSnapshotInterval: {
		Name:        "snapshot-interval-ms",
		ViperKey:    "snapshot.interval_ms",
		Description: "Periodic snapshot interval in milliseconds",
	},
	FlagBatchSize: {
		Name:        "batch-size",
		ViperKey:    "writer.batch_size",
		Description: "Frames per sink batch",
	},
	FlagBatchTimeout: {
		Name:        "batch-timeout-ms",
		ViperKey:    "writer.batch_timeout_ms",
		Description: "Maximum time a partial batch waits before flushing",
	},
	FlagMaxRetries: {
		Name:        "max-retries",
		ViperKey:    "writer.max_retries",
		Description: "Write attempts per sink before giving up",
	},
	FlagTask: {
		Name:        "task",
		Shorthand:   "t",
		ViperKey:    "episode.task_id",
		Description: "Task identifier recorded on every episode",
	},
	FlagDocumentKind: {
		Name:        "document-kind",
		ViperKey:    "episode.document_kind",
		Description: "Document layout to emit: experiment or episode",
	},
	FlagOut: {
		Name:        "out",
		Shorthand:   "o",
		ViperKey:    "sinks.file.dir",
		Description: "Directory for the file sink",
	},
	FlagSQLite: {
		Name:        "sqlite",
		ViperKey:    "sinks.sqlite.path",
		Description: "Path to the SQLite sink database",
	},
	FlagRegistry: {
		Name:        "registry",
		Shorthand:   "r",
		ViperKey:    "entities.registry",
		Description: "YAML file of entity definitions and tags",
	},
	FlagFlushPartial: {
		Name:        "flush-partial",
		ViperKey:    "episode.flush_partial_on_abort",
		Description: "Persist a partial document when an episode is aborted",
	},
	FlagManipulators: {
		Name:        "manipulators",
		ViperKey:    "episode.manipulators",
		Description: "Entity handles that can reach and grasp regardless of tags",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddStringSliceFlag registers a comma separated list flag on cmd from the
// given FlagSet.
func AddStringSliceFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *[]string) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultStringSlice(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringSliceVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringSliceVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}

// defaultBool returns the default bool value for a viper key from NewDefaultConfig.
func defaultBool(viperKey string) bool {
	v := viper.New()
	setViperDefaults(v)
	return v.GetBool(viperKey)
}

// defaultStringSlice returns the default list value for a viper key from NewDefaultConfig.
func defaultStringSlice(viperKey string) []string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetStringSlice(viperKey)
}

// PipelineFlags holds the flag values shared by commands that run episodes.
// The values reach the Config through viper once bound.
type PipelineFlags struct {
	DebounceOn   uint
	DebounceOff  uint
	SnapshotMs   uint
	BatchSize    uint
	BatchTimeout uint
	MaxRetries   uint
	Task         string
	DocumentKind string
	Out          string
	SQLite       string
	Registry     string
	FlushPartial bool
	Manipulators []string
}

// PipelineFlagKeys lists the FlagSet keys registered by AddPipelineFlags.
var PipelineFlagKeys = []string{
	FlagDebounceOn,
	FlagDebounceOff,
	FlagSnapshotInterval,
	FlagBatchSize,
	FlagBatchTimeout,
	FlagMaxRetries,
	FlagTask,
	FlagDocumentKind,
	FlagOut,
	FlagSQLite,
	FlagRegistry,
	FlagFlushPartial,
	FlagManipulators,
}

// AddPipelineFlags registers every flag of PipelineFlagKeys on cmd.
func AddPipelineFlags(cmd *cobra.Command, f *PipelineFlags) {
	AddUintFlag(cmd, Flags, FlagDebounceOn, &f.DebounceOn)
	AddUintFlag(cmd, Flags, FlagDebounceOff, &f.DebounceOff)
	AddUintFlag(cmd, Flags, FlagSnapshotInterval, &f.SnapshotMs)
	AddUintFlag(cmd, Flags, FlagBatchSize, &f.BatchSize)
	AddUintFlag(cmd, Flags, FlagBatchTimeout, &f.BatchTimeout)
	AddUintFlag(cmd, Flags, FlagMaxRetries, &f.MaxRetries)
	AddStringFlag(cmd, Flags, FlagTask, &f.Task)
	AddStringFlag(cmd, Flags, FlagDocumentKind, &f.DocumentKind)
	AddStringFlag(cmd, Flags, FlagOut, &f.Out)
	AddStringFlag(cmd, Flags, FlagSQLite, &f.SQLite)
	AddStringFlag(cmd, Flags, FlagRegistry, &f.Registry)
	AddBoolFlag(cmd, Flags, FlagFlushPartial, &f.FlushPartial)
	AddStringSliceFlag(cmd, Flags, FlagManipulators, &f.Manipulators)
}
