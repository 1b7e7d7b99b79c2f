// Package frame implements the diff encoder and its decode counterpart:
// building a minimal temporal/spatial (or RLE) representation of what
// changed between two palette-indexed frames, and reconstructing one frame
// from another plus that representation. Nothing in this package touches
// the wire directly; internal/master and internal/slave own packing the
// results into protocol packets and feeding them through a ReliableStream.
package frame

import (
	"fmt"
	"image"

	"github.com/lanternops/spilink/internal/palette"
)

// Render geometry. A single fixed render resolution is used; RenderMode
// exists to let a session negotiate the scale factor and a benchmark flag,
// not a different pixel count.
const (
	Width            = 120
	Height           = 80
	TotalPixels      = Width * Height
	DrawScaleX       = 2
	DrawScaleY       = 2
	SpatialBlockSize = 4
)

// DiffThresholds is selected from by the reset word's 2-bit compression
// aggressiveness field.
var DiffThresholds = [4]int{500, 1000, 1500, 3000}

// RenderMode describes a negotiable render configuration. Only the
// standard mode is implemented; benchmark mode ids are reserved (see
// IsBenchmark) but have no runnable loop in this module.
type RenderMode struct {
	ID     uint32
	Width  int
	Height int
	ScaleX int
	ScaleY int
}

// IsBenchmark reports whether m's id falls in the reserved benchmark
// range (8..15 of the reset word's 4-bit render-mode field).
func (m RenderMode) IsBenchmark() bool {
	return m.ID >= 8
}

// StandardRenderMode is the only mode this module actually renders.
var StandardRenderMode = RenderMode{ID: 0, Width: Width, Height: Height, ScaleX: DrawScaleX, ScaleY: DrawScaleY}

// RenderModeByID maps a render-mode id to its configuration.
// Benchmark ids (8..15) resolve to StandardRenderMode's geometry since no
// benchmark loop runs here; a caller that cares can check IsBenchmark
// before dispatching into one of its own.
func RenderModeByID(id uint32) RenderMode {
	if id == 0 {
		return StandardRenderMode
	}
	m := StandardRenderMode
	m.ID = id
	return m
}

// Frame is a palette-indexed raster at render resolution, plus an optional
// audio chunk carried alongside it for one protocol frame.
type Frame struct {
	Width, Height int
	Pixels        []uint8 // len == Width*Height, palette indices
	Audio         []byte  // nil if this frame carries no audio
}

// New allocates a zeroed Frame of the given dimensions.
func New(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Pixels: make([]uint8, width*height)}
}

// Clone returns a deep copy of f's pixels (not its audio, which belongs to
// exactly one protocol frame and is never replayed).
func (f *Frame) Clone() *Frame {
	out := &Frame{Width: f.Width, Height: f.Height, Pixels: make([]uint8, len(f.Pixels))}
	copy(out.Pixels, f.Pixels)
	return out
}

// HasAudio reports whether this frame carries an audio chunk.
func (f *Frame) HasAudio() bool {
	return len(f.Audio) > 0
}

// Image renders f through lut into a debug-inspectable image.Image. Not
// used by the protocol itself; exposed so a caller-supplied tool (a PNG
// writer, a test assertion) can snapshot a frame without reimplementing
// palette lookup.
func (f *Frame) Image(lut *palette.LUT) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := lut.Color(f.Pixels[y*f.Width+x])
			off := img.PixOffset(x, y)
			img.Pix[off] = c.R
			img.Pix[off+1] = c.G
			img.Pix[off+2] = c.B
			img.Pix[off+3] = 0xFF
		}
	}
	return img
}

func (f *Frame) validateSameShape(other *Frame) error {
	if f.Width != other.Width || f.Height != other.Height {
		return fmt.Errorf("frame: shape mismatch: %dx%d vs %dx%d", f.Width, f.Height, other.Width, other.Height)
	}
	return nil
}
