package eventstream

import "errors"

// ErrNilEpisodeEvent indicates a nil episode event payload was provided to a publisher.
var ErrNilEpisodeEvent = errors.New("nil episode event")
