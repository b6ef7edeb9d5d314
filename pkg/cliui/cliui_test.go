package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semlog/pipeline/writer"
	"github.com/papercomputeco/semlog/pkg/cliui"
	"github.com/papercomputeco/semlog/pkg/episode"
)

func at(ms int) *time.Duration {
	d := time.Duration(ms) * time.Millisecond
	return &d
}

var _ = Describe("FormatDuration", func() {
	It("formats sub-second durations in milliseconds", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
	})

	It("formats longer durations in seconds", func() {
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})

var _ = Describe("Step", func() {
	It("prints a success mark", func() {
		var buf bytes.Buffer
		Expect(cliui.Step(&buf, "writing", func() error { return nil })).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("writing"))
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
	})

	It("returns the error and prints a fail mark", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")
		Expect(cliui.Step(&buf, "writing", func() error { return boom })).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})
})

var _ = Describe("TimelineMarkdown", func() {
	It("indents nested events and marks truncated ones", func() {
		ep := &episode.Episode{
			ID:        "ep-1",
			TaskID:    "stack",
			End:       time.Second,
			Snapshots: []time.Duration{0, 500 * time.Millisecond},
			Events: []episode.EventOccurrence{
				{ID: "e1", Class: episode.ClassReach, Participants: []string{"gripper", "cup"}, Start: 100 * time.Millisecond, End: at(600)},
				{ID: "e2", Class: episode.ClassGrasp, Participants: []string{"gripper", "cup"}, Start: 400 * time.Millisecond, End: at(1000), ParentID: "e1", Truncated: true},
			},
		}

		md := cliui.TimelineMarkdown(ep)
		Expect(md).To(ContainSubstring("Episode `ep-1`"))
		Expect(md).To(ContainSubstring("Task **stack**"))
		Expect(md).To(ContainSubstring("(1 truncated)"))
		Expect(md).To(ContainSubstring("| Reach | gripper, cup | 100ms | 600ms | 500ms |"))
		Expect(md).To(ContainSubstring("| ↳ Grasp * |"))
	})

	It("notes an empty timeline", func() {
		md := cliui.TimelineMarkdown(&episode.Episode{ID: "ep-2", Aborted: true})
		Expect(md).To(ContainSubstring("aborted"))
		Expect(md).To(ContainSubstring("No events detected"))
	})
})

var _ = Describe("ReportMarkdown", func() {
	It("lists sinks in order and explains failures", func() {
		report := &writer.Report{
			EpisodeID: "ep-1",
			Results: map[string]writer.Result{
				"sqlite": {Sink: "sqlite", Status: writer.StatusFailed, Attempts: 4, Err: errors.New("disk full")},
				"file":   {Sink: "file", Status: writer.StatusCommitted, Documents: 1, Frames: 3, Attempts: 2},
			},
		}

		md := cliui.ReportMarkdown(report)
		Expect(md).To(ContainSubstring("| file | committed | 1 | 3 | 0 | 2 |"))
		Expect(md).To(ContainSubstring("| sqlite | failed | 0 | 0 | 0 | 4 |"))
		Expect(md).To(ContainSubstring("**sqlite**: disk full"))
	})
})
