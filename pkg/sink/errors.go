package sink

import (
	"errors"
	"fmt"
)

// ErrNilDocument is returned when a nil document is written to a sink.
var ErrNilDocument = errors.New("nil document")

// TransientIOError marks a sink failure that may succeed when retried, such
// as a dropped connection or a throttled request.
type TransientIOError struct {
	Sink string
	Op   string
	Err  error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient %s failure on sink %s: %v", e.Op, e.Sink, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientIOError. A nil err returns nil.
func Transient(sink, op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Sink: sink, Op: op, Err: err}
}

// IsTransient reports whether err, or any error it wraps, is a
// TransientIOError.
func IsTransient(err error) bool {
	var t *TransientIOError
	return errors.As(err, &t)
}
