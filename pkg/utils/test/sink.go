package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/semlog/pkg/sink"
	"github.com/papercomputeco/semlog/pkg/sink/inmemory"
)

// ErrFlaky is the cause wrapped by FlakySink failures.
var ErrFlaky = errors.New("flaky sink failure")

// FlakySink is a test sink that fails a configurable number of attempts
// before delegating to an in-memory sink.
type FlakySink struct {
	*inmemory.Sink

	mu sync.Mutex

	// FailFirst fails this many write attempts before succeeding.
	FailFirst int

	// FailAlways fails every write attempt.
	FailAlways bool

	// Permanent makes failures non-transient.
	Permanent bool

	// Block, if non-nil, is received from during every attempt.
	Block chan struct{}

	attempts      int
	writeAttempts int
	batchAttempts int
}

// NewFlakySink creates a new flaky sink.
func NewFlakySink(name string, failFirst int) *FlakySink {
	return &FlakySink{
		Sink:      inmemory.New(name),
		FailFirst: failFirst,
	}
}

func (f *FlakySink) fail() error {
	f.mu.Lock()
	f.attempts++
	n := f.attempts
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	if !f.FailAlways && n > f.FailFirst {
		return nil
	}
	if f.Permanent {
		return ErrFlaky
	}
	return sink.Transient(f.Name(), "write", ErrFlaky)
}

func (f *FlakySink) Write(ctx context.Context, doc *sink.Document) error {
	f.mu.Lock()
	f.writeAttempts++
	f.mu.Unlock()

	if err := f.fail(); err != nil {
		return err
	}
	return f.Sink.Write(ctx, doc)
}

func (f *FlakySink) WriteBatch(ctx context.Context, frames []sink.RawFrame) error {
	f.mu.Lock()
	f.batchAttempts++
	f.mu.Unlock()

	if err := f.fail(); err != nil {
		return err
	}
	return f.Sink.WriteBatch(ctx, frames)
}

// Attempts returns the number of Write and WriteBatch calls.
func (f *FlakySink) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// WriteAttempts returns the number of Write calls.
func (f *FlakySink) WriteAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeAttempts
}

// BatchAttempts returns the number of WriteBatch calls.
func (f *FlakySink) BatchAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchAttempts
}
