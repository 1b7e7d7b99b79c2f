package slave

import (
	"image"

	"github.com/lanternops/spilink/internal/frame"
	"github.com/lanternops/spilink/internal/palette"
)

// Renderer owns the output framebuffer and redraws only the pixels a Diff
// marks changed, scaling each source pixel into a DrawScaleX x DrawScaleY
// rectangle. Writes go straight into the RGBA Pix slice, mirroring the
// teacher's direct-buffer-write style in its pixel-format converters
// rather than a general-purpose image/draw scaler, since only source
// pixels named by a Diff ever need redrawing.
type Renderer struct {
	lut  *palette.LUT
	mode frame.RenderMode
	img  *image.RGBA
}

// NewRenderer allocates a framebuffer at mode's scaled output resolution.
func NewRenderer(lut *palette.LUT, mode frame.RenderMode) *Renderer {
	w := mode.Width * mode.ScaleX
	h := mode.Height * mode.ScaleY
	return &Renderer{lut: lut, mode: mode, img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// Image returns the live framebuffer. Callers must not retain it across a
// reset, since a new Renderer is built per session.
func (r *Renderer) Image() *image.RGBA {
	return r.img
}

// BlitChanged draws every pixel diff marks changed in curr, each scaled
// into its DrawScaleX x DrawScaleY rectangle at (i%W, i/W) source
// coordinates. A no-op diff (ExpectedPackets == 0) draws nothing, per
// spec.md's "no partial-frame display" rule — there's nothing new to show.
func (r *Renderer) BlitChanged(curr *frame.Frame, diff *frame.Diff) {
	if diff.ExpectedPackets == 0 {
		return
	}

	for _, i := range diff.ChangedIndices(curr.Width * curr.Height) {
		x := i % curr.Width
		y := i / curr.Width
		r.fillRect(x, y, r.lut.Color(curr.Pixels[i]))
	}
}

// BlitAll redraws the entire frame. The slave's own frame loop never calls
// it; it redraws only through BlitChanged.
func (r *Renderer) BlitAll(curr *frame.Frame) {
	for y := 0; y < curr.Height; y++ {
		for x := 0; x < curr.Width; x++ {
			r.fillRect(x, y, r.lut.Color(curr.Pixels[y*curr.Width+x]))
		}
	}
}

func (r *Renderer) fillRect(x, y int, c palette.Color) {
	x0 := x * r.mode.ScaleX
	y0 := y * r.mode.ScaleY

	for dy := 0; dy < r.mode.ScaleY; dy++ {
		rowOff := r.img.PixOffset(x0, y0+dy)
		for dx := 0; dx < r.mode.ScaleX; dx++ {
			off := rowOff + dx*4
			r.img.Pix[off] = c.R
			r.img.Pix[off+1] = c.G
			r.img.Pix[off+2] = c.B
			r.img.Pix[off+3] = 0xFF
		}
	}
}
