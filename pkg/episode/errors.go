package episode

import (
	"errors"
	"fmt"
)

var (
	// ErrNoOpenEpisode is returned when an operation needs an open episode
	// and none is open.
	ErrNoOpenEpisode = errors.New("no open episode")

	// ErrEpisodeOpen is returned when opening an episode while another one
	// is still open.
	ErrEpisodeOpen = errors.New("an episode is already open")
)

// EpisodeStateError reports an operation that does not fit the episode
// lifecycle. It never aborts the open episode.
type EpisodeStateError struct {
	Op        string
	EpisodeID string
	Err       error
}

func (e *EpisodeStateError) Error() string {
	if e.EpisodeID == "" {
		return fmt.Sprintf("episode %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("episode %s %s: %v", e.Op, e.EpisodeID, e.Err)
}

func (e *EpisodeStateError) Unwrap() error {
	return e.Err
}
