package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Output formats the renderer understands.
type OutputFormat string

const (
	FormatPNG8       OutputFormat = "PNG (8 bit)"
	FormatPNG8Alpha  OutputFormat = "PNG (8 bit + alpha)"
	FormatPNG16      OutputFormat = "PNG (16 bit)"
	FormatPNG16Alpha OutputFormat = "PNG (16 bit + alpha)"
	FormatJPEG       OutputFormat = "JPEG"
)

var validFormats = map[OutputFormat]bool{
	FormatPNG8:       true,
	FormatPNG8Alpha:  true,
	FormatPNG16:      true,
	FormatPNG16Alpha: true,
	FormatJPEG:       true,
}

// Render engines.
type Engine string

const (
	EngineCycles Engine = "CYCLES"
	EngineEevee  Engine = "EEVEE"
)

var validEngines = map[Engine]bool{
	EngineCycles: true,
	EngineEevee:  true,
}

var (
	ErrAmbiguousFrameSpec = errors.New("frame range must be either a single frame or a start/end pair")
	ErrInvalidFrameRange  = errors.New("frame range end must not precede start")
)

// FrameSpec selects which frames to render: exactly one of a single frame
// or an inclusive [start, end] range. Ambiguous payloads are rejected when
// decoded, not at use time.
type FrameSpec struct {
	Frame *int `json:"frame,omitempty"`
	Start *int `json:"start,omitempty"`
	End   *int `json:"end,omitempty"`
}

func SingleFrame(n int) FrameSpec {
	return FrameSpec{Frame: &n}
}

func FrameRange(start, end int) FrameSpec {
	return FrameSpec{Start: &start, End: &end}
}

func (f *FrameSpec) UnmarshalJSON(data []byte) error {
	type raw FrameSpec
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	single := r.Frame != nil
	ranged := r.Start != nil || r.End != nil
	if single == ranged {
		return ErrAmbiguousFrameSpec
	}
	if ranged && (r.Start == nil || r.End == nil) {
		return ErrAmbiguousFrameSpec
	}
	*f = FrameSpec(r)
	return nil
}

// Validate checks the invariants that survive deserialization.
func (f FrameSpec) Validate() error {
	switch {
	case f.Frame != nil:
		return nil
	case f.Start != nil && f.End != nil:
		if *f.End < *f.Start {
			return ErrInvalidFrameRange
		}
		return nil
	}
	return ErrAmbiguousFrameSpec
}

// Arg renders the spec as the renderer's --frame-range argument: "N" for a
// single frame, "start,end" for a range.
func (f FrameSpec) Arg() string {
	if f.Frame != nil {
		return fmt.Sprintf("%d", *f.Frame)
	}
	return fmt.Sprintf("%d,%d", *f.Start, *f.End)
}

// TotalFrames is the number of frames the spec selects.
func (f FrameSpec) TotalFrames() int {
	if f.Frame != nil {
		return 1
	}
	return *f.End - *f.Start + 1
}

// LastFrame is the highest frame number selected.
func (f FrameSpec) LastFrame() int {
	if f.Frame != nil {
		return *f.Frame
	}
	return *f.End
}

// RenderSettings are immutable once a job starts rendering.
type RenderSettings struct {
	FrameSpec    FrameSpec    `json:"frameRange"`
	ResolutionX  int          `json:"resolutionX" validate:"required,min=1"`
	ResolutionY  int          `json:"resolutionY" validate:"required,min=1"`
	OutputFormat OutputFormat `json:"outputFormat" validate:"required"`
	Engine       Engine       `json:"engine" validate:"required"`
}

// Validate covers the rules struct tags cannot express: enum membership
// (the format names contain spaces, which oneof cannot carry) and the
// frame range ordering.
func (s *RenderSettings) Validate() error {
	if !validFormats[s.OutputFormat] {
		return fmt.Errorf("unsupported output format %q", s.OutputFormat)
	}
	if !validEngines[s.Engine] {
		return fmt.Errorf("unsupported render engine %q", s.Engine)
	}
	return s.FrameSpec.Validate()
}
