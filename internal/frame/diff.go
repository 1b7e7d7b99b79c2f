package frame

import "github.com/lanternops/spilink/internal/palette"

// RLERun is one (run_length, pixel_index) pair of variant B's payload. The
// high bit of PixelIndex is the "repeat again" marker, leaving 7 bits
// (0..127) to select an entry from Diff.PaletteMap.
type RLERun struct {
	Length     uint8
	PixelIndex uint8
}

// maxPaletteMapEntries bounds the palette remap variant B may ship; the
// high bit of every RLERun.PixelIndex is reserved for the repeat marker,
// leaving only 7 bits to address it.
const maxPaletteMapEntries = 128

const rleRepeatBit = 0x80
const rleIndexMask = 0x7F

// Diff is the master-side encoding of what changed between two frames.
// A Diff with ExpectedPackets == 0 carries no pixel payload at all: the
// slave renders a no-op frame.
type Diff struct {
	StartPixel      uint32
	TemporalBits    []byte // one bit per pixel, full frame length
	UseRLE          bool
	HasAudio        bool
	ExpectedPackets uint32

	// Variant A (spatial block repeat).
	SpatialBits       []byte  // one bit per SpatialBlockSize-pixel block of the changed run
	CompressedPixels  []uint8 // payload values in changed-pixel order: one per repeated block, every pixel of other blocks

	// Variant B (RLE + palette remap).
	PaletteMap []uint8
	RLERuns    []RLERun
}

// Encode builds the Diff that turns prev into curr, using lut to compare
// colors in 24-bit space and threshold as the per-pixel change cutoff.
func Encode(prev, curr *Frame, lut *palette.LUT, threshold int) (*Diff, error) {
	if err := prev.validateSameShape(curr); err != nil {
		return nil, err
	}

	total := len(curr.Pixels)
	temporalBits := make([]byte, (total+7)/8)
	firstChanged := -1
	for i := 0; i < total; i++ {
		if lut.Distance(curr.Pixels[i], prev.Pixels[i]) > threshold {
			setBit(temporalBits, i)
			if firstChanged == -1 {
				firstChanged = i
			}
		}
	}

	diff := &Diff{TemporalBits: temporalBits, HasAudio: curr.HasAudio()}

	if firstChanged == -1 {
		return diff, nil
	}

	// Round down to a 32-pixel (one word of bitmap) boundary so the
	// shipped bitmap starts on a packet boundary.
	diff.StartPixel = uint32((firstChanged / 32) * 32)

	changed := collectChangedIndices(temporalBits, diff.StartPixel, total)

	a := encodeSpatial(curr, changed)
	b := encodeRLE(curr, changed)

	if b != nil && b.packetCount() < a.packetCount() {
		diff.UseRLE = true
		diff.PaletteMap = b.paletteMap
		diff.RLERuns = b.runs
		diff.ExpectedPackets = uint32(b.packetCount())
	} else {
		diff.UseRLE = false
		diff.SpatialBits = a.spatialBits
		diff.CompressedPixels = a.pixels
		diff.ExpectedPackets = uint32(a.packetCount())
	}

	return diff, nil
}

type spatialEncoding struct {
	spatialBits []byte
	pixels      []uint8
}

func (e *spatialEncoding) packetCount() int {
	return (len(e.pixels) + 3) / 4
}

// encodeSpatial implements variant A: changed pixels are grouped into
// SpatialBlockSize-sized runs (in changed-pixel order, not raster
// adjacency); a full uniform-color group sets one spatial bit and
// contributes a single pixel to the payload, which the decoder replays
// across the whole group. A shorter trailing group always ships every pixel.
func encodeSpatial(curr *Frame, changed []int) *spatialEncoding {
	numBlocks := (len(changed) + SpatialBlockSize - 1) / SpatialBlockSize
	spatialBits := make([]byte, (numBlocks+7)/8)
	var pixels []uint8

	for block := 0; block < numBlocks; block++ {
		start := block * SpatialBlockSize
		end := start + SpatialBlockSize
		if end > len(changed) {
			end = len(changed)
		}

		uniform := true
		val := curr.Pixels[changed[start]]
		for _, idx := range changed[start+1 : end] {
			if curr.Pixels[idx] != val {
				uniform = false
				break
			}
		}

		// Only a full block may be marked repeated: the slave recovers the
		// payload length as changed - repeatedBlocks*(SpatialBlockSize-1),
		// which a short trailing block would break.
		if uniform && end-start == SpatialBlockSize {
			setBit(spatialBits, block)
			pixels = append(pixels, val)
		} else {
			for _, idx := range changed[start:end] {
				pixels = append(pixels, curr.Pixels[idx])
			}
		}
	}

	return &spatialEncoding{spatialBits: spatialBits, pixels: pixels}
}

type rleEncoding struct {
	paletteMap []uint8
	runs       []RLERun
}

func (e *rleEncoding) packetCount() int {
	return (2*len(e.runs) + 3) / 4
}

// encodeRLE implements variant B: consecutive equal-valued changed pixels
// collapse into (run_length, compressed_index) pairs against a shrunk
// palette of at most maxPaletteMapEntries real palette indices actually
// used this frame. Returns nil if more than maxPaletteMapEntries distinct
// colors appear, since the 7-bit compressed index can't address them.
//
// The repeat marker bit is never set by this encoder — a run's length
// already covers any count up to 255, split across multiple pairs beyond
// that — but Apply still honors it, since the wire format allows a peer
// encoder to use it.
func encodeRLE(curr *Frame, changed []int) *rleEncoding {
	paletteIndex := make(map[uint8]int)
	var paletteMap []uint8

	compressedIndexOf := func(v uint8) (int, bool) {
		if idx, ok := paletteIndex[v]; ok {
			return idx, true
		}
		if len(paletteMap) >= maxPaletteMapEntries {
			return 0, false
		}
		idx := len(paletteMap)
		paletteIndex[v] = idx
		paletteMap = append(paletteMap, v)
		return idx, true
	}

	var runs []RLERun
	i := 0
	for i < len(changed) {
		val := curr.Pixels[changed[i]]
		idx, ok := compressedIndexOf(val)
		if !ok {
			return nil
		}

		runLen := 1
		for i+runLen < len(changed) && curr.Pixels[changed[i+runLen]] == val && runLen < 255 {
			runLen++
		}

		runs = append(runs, RLERun{Length: uint8(runLen), PixelIndex: uint8(idx) & rleIndexMask})
		i += runLen
	}

	return &rleEncoding{paletteMap: paletteMap, runs: runs}
}

// ChangedCount returns the number of pixels diff's temporal bitmap marks
// as changed.
func (d *Diff) ChangedCount() int {
	return popcount(d.TemporalBits)
}

// ChangedIndices returns, in ascending order, every pixel index the diff's
// temporal bitmap marks as changed. Used by internal/slave to redraw only
// the pixels that actually moved instead of the whole frame.
func (d *Diff) ChangedIndices(totalPixels int) []int {
	return collectChangedIndices(d.TemporalBits, d.StartPixel, totalPixels)
}

// Apply reconstructs the frame diff describes, starting from prev. It
// never mutates prev.
func Apply(prev *Frame, diff *Diff) (*Frame, error) {
	curr := prev.Clone()

	if diff.ExpectedPackets == 0 {
		return curr, nil
	}

	changed := collectChangedIndices(diff.TemporalBits, diff.StartPixel, len(curr.Pixels))

	if diff.UseRLE {
		applyRLE(curr, changed, diff)
	} else {
		applySpatial(curr, changed, diff)
	}

	return curr, nil
}

func applySpatial(curr *Frame, changed []int, diff *Diff) {
	pixelCursor := 0
	block := 0

	for i := 0; i < len(changed); block++ {
		end := i + SpatialBlockSize
		if end > len(changed) {
			end = len(changed)
		}

		if getBit(diff.SpatialBits, block) {
			val := diff.CompressedPixels[pixelCursor]
			pixelCursor++
			for _, idx := range changed[i:end] {
				curr.Pixels[idx] = val
			}
		} else {
			for _, idx := range changed[i:end] {
				curr.Pixels[idx] = diff.CompressedPixels[pixelCursor]
				pixelCursor++
			}
		}

		i = end
	}
}

func applyRLE(curr *Frame, changed []int, diff *Diff) {
	pos := 0
	for _, run := range diff.RLERuns {
		val := diff.PaletteMap[run.PixelIndex&rleIndexMask]

		for k := 0; k < int(run.Length) && pos < len(changed); k++ {
			curr.Pixels[changed[pos]] = val
			pos++
		}

		if run.PixelIndex&rleRepeatBit != 0 && pos < len(changed) {
			curr.Pixels[changed[pos]] = val
			pos++
		}
	}
}
