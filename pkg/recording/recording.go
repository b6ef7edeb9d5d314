// Package recording reads and writes captured simulation frame sequences,
// so an episode can be replayed through a session without a live simulator.
//
// A YAML recording looks like:
//
//	task_id: pick-cup
//	frames:
//	  - timestamp: 10ms
//	    entities:
//	      - handle: gripper
//	        position: {x: 0, y: 0, z: 0.3}
//	        velocity: {x: 0.2, y: 0, z: 0}
//	      - handle: cup
//	        position: {x: 0.8, y: 0, z: 0.3}
//
// JSON recordings use the same fields with integer nanosecond timestamps.
package recording

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/papercomputeco/semlog/pkg/observation"
)

// Format is the encoding of a recording.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrNoFrames is returned for recordings without frames.
var ErrNoFrames = errors.New("recording has no frames")

// Recording is one episode worth of captured frames.
type Recording struct {
	// EpisodeID and TaskID are passed to the session when the episode
	// starts. Both are optional.
	EpisodeID string `json:"episode_id,omitempty" yaml:"episode_id,omitempty"`
	TaskID    string `json:"task_id,omitempty" yaml:"task_id,omitempty"`

	// Start and End bound the episode. Zero values fall back to the first
	// and last frame timestamps.
	Start time.Duration `json:"start_ns,omitempty" yaml:"start,omitempty"`
	End   time.Duration `json:"end_ns,omitempty" yaml:"end,omitempty"`

	// Aborted ends the episode with an abort instead of a close.
	Aborted bool `json:"aborted,omitempty" yaml:"aborted,omitempty"`

	Frames []observation.Frame `json:"frames" yaml:"frames"`
}

// Bounds returns the start and end of the recorded episode.
func (r *Recording) Bounds() (time.Duration, time.Duration) {
	start, end := r.Start, r.End
	if len(r.Frames) == 0 {
		return start, max(start, end)
	}
	if start == 0 {
		start = r.Frames[0].Timestamp
	}
	if end == 0 {
		end = r.Frames[len(r.Frames)-1].Timestamp
	}
	return start, max(start, end)
}

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown recording format for %s (expected .yaml, .yml or .json)", path)
	}
}

// Load reads the recording at path.
func Load(path string) (*Recording, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

	rec, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("reading recording %s: %w", path, err)
	}
	return rec, nil
}

// Decode reads a recording in the given format.
func Decode(r io.Reader, format Format) (*Recording, error) {
	var rec Recording

	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&rec); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&rec); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown recording format %q", format)
	}

	if len(rec.Frames) == 0 {
		return nil, ErrNoFrames
	}
	return &rec, nil
}

// Encode writes rec in the given format.
func Encode(w io.Writer, rec *Recording, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding YAML: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	default:
		return fmt.Errorf("unknown recording format %q", format)
	}
}

// Save writes rec to path in the format implied by its extension.
func Save(path string, rec *Recording) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, rec, format); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing recording: %w", err)
	}
	return nil
}
