package observation

import (
	"errors"
	"fmt"
	"time"
)

// ErrNonMonotonicFrame indicates a frame whose timestamp does not advance
// past the previously accepted frame.
var ErrNonMonotonicFrame = errors.New("frame timestamp does not advance")

// MalformedObservationError reports a frame or entity state that was dropped
// during normalization. It never stops the episode.
type MalformedObservationError struct {
	Timestamp time.Duration
	Handle    string
	Reason    string
	Err       error
}

func (e *MalformedObservationError) Error() string {
	msg := fmt.Sprintf("malformed observation at %s", e.Timestamp)
	if e.Handle != "" {
		msg += fmt.Sprintf(" for %q", e.Handle)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedObservationError) Unwrap() error {
	return e.Err
}
