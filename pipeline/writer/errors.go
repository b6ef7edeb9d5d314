package writer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWriterClosed is returned when enqueueing on a closed writer.
	ErrWriterClosed = errors.New("writer closed")

	// ErrUnknownEpisode is returned by Wait for an episode that was never
	// committed or discarded.
	ErrUnknownEpisode = errors.New("unknown episode")
)

// BackpressureTimeoutError is returned when a sink queue stayed full for
// longer than the enqueue timeout. The write is lost for that sink only.
type BackpressureTimeoutError struct {
	Sink      string
	EpisodeID string
	Timeout   time.Duration
}

func (e *BackpressureTimeoutError) Error() string {
	return fmt.Sprintf("sink %s queue full for %s, dropping write of episode %s", e.Sink, e.Timeout, e.EpisodeID)
}

// IsBackpressure reports whether err contains a BackpressureTimeoutError.
func IsBackpressure(err error) bool {
	var bp *BackpressureTimeoutError
	return errors.As(err, &bp)
}
