package eventstream

import "context"

// Publisher publishes episode events to an event stream backend.
type Publisher interface {
	PublishEpisode(ctx context.Context, event *EpisodePersistedEvent) error
	Close() error
}
