package eventstream

import (
	"time"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeEpisodePersisted is emitted after every sink has finished an
	// episode's documents.
	EventTypeEpisodePersisted = "semlog.episode.persisted"
)

// EpisodePersistedEvent is a transport-neutral event payload for a persisted
// episode.
type EpisodePersistedEvent struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	EventID       string        `json:"event_id"`
	EmittedAt     time.Time     `json:"emitted_at"`
	Episode       EpisodeMeta   `json:"episode"`
	Sinks         []SinkOutcome `json:"sinks"`
}

// EpisodeMeta identifies the persisted episode.
type EpisodeMeta struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id,omitempty"`
	Aborted   bool     `json:"aborted,omitempty"`
	Documents []string `json:"documents"`
}

// SinkOutcome is the final status of the episode on one sink.
type SinkOutcome struct {
	Sink      string `json:"sink"`
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Frames    int    `json:"frames"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// Failed reports whether any sink failed the episode.
func (e *EpisodePersistedEvent) Failed() bool {
	for _, s := range e.Sinks {
		if s.Error != "" {
			return true
		}
	}
	return false
}
