package writer

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/eventstream"
)

// Status is the final state of an episode on one sink.
type Status string

const (
	// StatusCommitted means every document and frame batch was written.
	StatusCommitted Status = "committed"

	// StatusFailed means at least one write exhausted its retries or failed
	// permanently.
	StatusFailed Status = "failed"

	// StatusDiscarded means the episode was aborted without flushing.
	StatusDiscarded Status = "discarded"
)

// Result is the outcome of one episode on one sink.
type Result struct {
	Sink      string
	EpisodeID string
	Status    Status

	// Documents and Frames count committed writes.
	Documents int
	Frames    int

	// FailedFrames counts frames in batches that failed terminally.
	FailedFrames int

	// Dropped counts frames lost to backpressure.
	Dropped int

	// Attempts counts every write call issued to the sink, retries included.
	Attempts int

	// Err joins every terminal failure.
	Err error
}

// Report collects the per-sink results of one episode.
type Report struct {
	EpisodeID string
	TaskID    string
	Aborted   bool
	Documents []string
	Results   map[string]Result
}

// Failed returns the results of sinks that failed the episode.
func (r *Report) Failed() []Result {
	var out []Result
	for _, name := range slices.Sorted(maps.Keys(r.Results)) {
		if res := r.Results[name]; res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

const historySize = 64

type pendingReport struct {
	report  *Report
	dropped map[string]int
	done    chan struct{}

	// accepted marks the sinks whose queue took the episode's final write.
	accepted map[string]bool
	listed   bool
}

func (p *pendingReport) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// tracker aggregates sink results into episode reports.
type tracker struct {
	sinks     int
	publisher eventstream.Publisher
	onResult  func(Result)
	logger    *zap.Logger

	mu      sync.Mutex
	reports map[string]*pendingReport
	history []string
}

func newTracker(sinks int, publisher eventstream.Publisher, onResult func(Result), logger *zap.Logger) *tracker {
	return &tracker{
		sinks:     sinks,
		publisher: publisher,
		onResult:  onResult,
		logger:    logger,
		reports:   make(map[string]*pendingReport),
	}
}

func (t *tracker) entry(episodeID string) *pendingReport {
	p, ok := t.reports[episodeID]
	if !ok {
		p = &pendingReport{
			report:   &Report{EpisodeID: episodeID, Results: make(map[string]Result, t.sinks)},
			dropped:  make(map[string]int),
			done:     make(chan struct{}),
			accepted: make(map[string]bool, t.sinks),
		}
		t.reports[episodeID] = p
	}
	return p
}

// begin registers the final write set of an episode and returns the sinks
// that still have to receive it. Those sinks are marked accepted until
// retract says otherwise, and any result they reported earlier is dropped.
func (t *tracker) begin(ep Episode, sinks []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entry(ep.ID)

	var targets []string
	for _, name := range sinks {
		if !p.accepted[name] {
			targets = append(targets, name)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	if p.finished() {
		p = t.reopenLocked(ep.ID, p)
	}

	p.report.TaskID = ep.TaskID
	p.report.Aborted = ep.Aborted
	p.report.Documents = make([]string, 0, len(ep.Documents))
	for _, d := range ep.Documents {
		p.report.Documents = append(p.report.Documents, d.ID)
	}
	for _, name := range targets {
		p.accepted[name] = true
		delete(p.report.Results, name)
	}
	return targets
}

// reopenLocked replaces a finished report so that resubmitted sinks can
// report again. Waiters already holding the old report keep its results.
func (t *tracker) reopenLocked(episodeID string, old *pendingReport) *pendingReport {
	p := &pendingReport{
		report: &Report{
			EpisodeID: episodeID,
			Results:   maps.Clone(old.report.Results),
		},
		dropped:  maps.Clone(old.dropped),
		done:     make(chan struct{}),
		accepted: maps.Clone(old.accepted),
		listed:   old.listed,
	}
	t.reports[episodeID] = p
	return p
}

// retract clears the accepted mark of a sink whose final write never made
// it into its queue.
func (t *tracker) retract(episodeID, sinkName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.reports[episodeID]; ok {
		delete(p.accepted, sinkName)
	}
}

func (t *tracker) drop(episodeID, sinkName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(episodeID).dropped[sinkName]++
}

func (t *tracker) record(res Result) {
	if t.onResult != nil {
		t.onResult(res)
	}

	t.mu.Lock()
	p := t.entry(res.EpisodeID)
	res.Dropped += p.dropped[res.Sink]
	if res.Dropped > 0 && res.Status == StatusCommitted {
		res.Status = StatusFailed
	}
	p.report.Results[res.Sink] = res
	complete := t.completeLocked(res.EpisodeID, p)
	t.mu.Unlock()

	if complete {
		t.publish(p.report)
	}
}

// completeLocked closes the done channel once every sink reported.
func (t *tracker) completeLocked(episodeID string, p *pendingReport) bool {
	if len(p.report.Results) < t.sinks || p.finished() {
		return false
	}
	close(p.done)

	if p.listed {
		return true
	}
	p.listed = true
	t.history = append(t.history, episodeID)
	if len(t.history) > historySize {
		delete(t.reports, t.history[0])
		t.history = t.history[1:]
	}
	return true
}

func (t *tracker) publish(r *Report) {
	if t.publisher == nil || len(r.Documents) == 0 {
		return
	}

	event := &eventstream.EpisodePersistedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeEpisodePersisted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Episode: eventstream.EpisodeMeta{
			ID:        r.EpisodeID,
			TaskID:    r.TaskID,
			Aborted:   r.Aborted,
			Documents: r.Documents,
		},
	}
	for _, name := range slices.Sorted(maps.Keys(r.Results)) {
		res := r.Results[name]
		out := eventstream.SinkOutcome{
			Sink:      res.Sink,
			Status:    string(res.Status),
			Documents: res.Documents,
			Frames:    res.Frames,
			Attempts:  res.Attempts,
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		event.Sinks = append(event.Sinks, out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.publisher.PublishEpisode(ctx, event); err != nil {
		t.logger.Warn("failed to publish episode event",
			zap.String("episode_id", r.EpisodeID),
			zap.Error(err),
		)
	}
}

// wait blocks until every sink reported the episode.
func (t *tracker) wait(ctx context.Context, episodeID string) (*Report, error) {
	t.mu.Lock()
	p, ok := t.reports[episodeID]
	t.mu.Unlock()
	if !ok {
		return nil, ErrUnknownEpisode
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	r := *p.report
	r.Results = maps.Clone(p.report.Results)
	r.Documents = slices.Clone(p.report.Documents)
	return &r, nil
}
