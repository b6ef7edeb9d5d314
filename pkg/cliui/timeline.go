package cliui

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/semlog/pipeline/writer"
	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/utils"
)

// maxErrLen caps sink errors in reports; joined retry errors get long.
const maxErrLen = 240

// TimelineMarkdown renders an episode as a markdown table of its events.
// Nested occurrences are indented under their parent.
func TimelineMarkdown(ep *episode.Episode) string {
	var b strings.Builder

	status := "closed"
	if ep.Aborted {
		status = "aborted"
	}

	fmt.Fprintf(&b, "## Episode `%s`\n\n", ep.ID)
	if ep.TaskID != "" {
		fmt.Fprintf(&b, "Task **%s**, ", ep.TaskID)
	}
	fmt.Fprintf(&b, "%s from %s to %s, %d snapshots, %d events",
		status, ep.Start, ep.End, len(ep.Snapshots), len(ep.Events))
	if n := ep.Truncated(); n > 0 {
		fmt.Fprintf(&b, " (%d truncated)", n)
	}
	b.WriteString("\n\n")

	if len(ep.Events) == 0 {
		b.WriteString("_No events detected._\n")
		return b.String()
	}

	b.WriteString("| Event | Participants | Start | End | Duration |\n")
	b.WriteString("|---|---|---|---|---|\n")

	depth := make(map[string]int, len(ep.Events))
	for _, e := range ep.Events {
		d := 0
		if e.ParentID != "" {
			d = depth[e.ParentID] + 1
		}
		depth[e.ID] = d

		name := strings.Repeat("↳ ", d) + e.Class.String()
		if e.Truncated {
			name += " *"
		}

		end, dur := "open", "-"
		if e.End != nil {
			end = e.End.String()
			dur = formatSpan(e.Duration())
		}

		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			name, strings.Join(e.Participants, ", "), e.Start, end, dur)
	}

	return b.String()
}

// ReportMarkdown renders the per-sink outcome of an episode.
func ReportMarkdown(r *writer.Report) string {
	var b strings.Builder

	b.WriteString("| Sink | Status | Documents | Frames | Dropped | Attempts |\n")
	b.WriteString("|---|---|---|---|---|---|\n")

	for _, name := range slices.Sorted(maps.Keys(r.Results)) {
		res := r.Results[name]
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d |\n",
			name, res.Status, res.Documents, res.Frames, res.Dropped+res.FailedFrames, res.Attempts)
	}

	for _, res := range r.Failed() {
		if res.Err != nil {
			fmt.Fprintf(&b, "\n**%s**: %s\n", res.Sink, utils.Truncate(res.Err.Error(), maxErrLen))
		}
	}

	return b.String()
}

func formatSpan(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
