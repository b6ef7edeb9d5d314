package logger

import (
	"io"
	"maps"
	"slices"

	"github.com/charmbracelet/log"
	"go.uber.org/zap/zapcore"
)

// prettyCore renders zap entries through charmbracelet/log for
// human-facing CLI output.
type prettyCore struct {
	zapcore.LevelEnabler
	out    *log.Logger
	fields []zapcore.Field
}

func newPrettyCore(w io.Writer, level zapcore.LevelEnabler) *prettyCore {
	out := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           log.DebugLevel,
	})
	return &prettyCore{LevelEnabler: level, out: out}
}

func (c *prettyCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(slices.Clone(c.fields), fields...)
	return &clone
}

func (c *prettyCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *prettyCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	keyvals := make([]any, 0, 2*len(enc.Fields))
	for _, k := range slices.Sorted(maps.Keys(enc.Fields)) {
		keyvals = append(keyvals, k, enc.Fields[k])
	}
	c.out.Log(prettyLevel(e.Level), e.Message, keyvals...)
	return nil
}

func (c *prettyCore) Sync() error { return nil }

func prettyLevel(l zapcore.Level) log.Level {
	switch {
	case l <= zapcore.DebugLevel:
		return log.DebugLevel
	case l == zapcore.InfoLevel:
		return log.InfoLevel
	case l == zapcore.WarnLevel:
		return log.WarnLevel
	case l == zapcore.FatalLevel:
		return log.FatalLevel
	default:
		return log.ErrorLevel
	}
}
