package frame

// Wire packing: bytes are packed little-endian, four per 4-byte packet,
// matching spec.md §4.3's packing rule for both pixel payloads and bit
// maps. The Link/ReliableStream layer is responsible for the wire's
// big-endian byte order within each word; these helpers only deal with
// which byte of a word holds which logical byte.

// packWordsLE packs data into words, four bytes per word, zero-padding the
// final word if len(data) isn't a multiple of 4.
func packWordsLE(data []byte) []uint32 {
	n := (len(data) + 3) / 4
	words := make([]uint32, n)
	for i, b := range data {
		words[i/4] |= uint32(b) << uint((i%4)*8)
	}
	return words
}

// unpackBytesLE extracts exactly n bytes from words, reversing packWordsLE.
func unpackBytesLE(words []uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(words[i/4] >> uint((i%4)*8))
	}
	return out
}

// TemporalWords returns the wire words for the temporal bitmap, trimmed to
// start at StartPixel (everything before it is implicitly unchanged) and
// padded out to the frame's full pixel count.
func (d *Diff) TemporalWords(totalPixels int) []uint32 {
	nBytes := (totalPixels - int(d.StartPixel) + 7) / 8
	from := int(d.StartPixel) / 8
	data := make([]byte, nBytes)
	copy(data, d.TemporalBits[from:])
	return packWordsLE(data)
}

// SpatialWords returns the wire words for the variant-A spatial bitmap.
func (d *Diff) SpatialWords() []uint32 {
	return packWordsLE(d.SpatialBits)
}

// PaletteMapWords returns the wire words for the variant-B palette remap
// table.
func (d *Diff) PaletteMapWords() []uint32 {
	return packWordsLE(d.PaletteMap)
}

// PixelWords returns the wire words for the pixel payload: literal
// palette indices for variant A, or (run_length, pixel_index) byte pairs
// for variant B.
func (d *Diff) PixelWords() []uint32 {
	if d.UseRLE {
		data := make([]byte, 0, len(d.RLERuns)*2)
		for _, r := range d.RLERuns {
			data = append(data, r.Length, r.PixelIndex)
		}
		return packWordsLE(data)
	}
	return packWordsLE(d.CompressedPixels)
}

// DecodeTemporalBits rebuilds a full-length temporal bitmap from the words
// received on the wire, given the frame's total pixel count and the
// metadata's start_pixel.
func DecodeTemporalBits(words []uint32, totalPixels int, startPixel uint32) []byte {
	nBytes := (totalPixels - int(startPixel) + 7) / 8
	tail := unpackBytesLE(words, nBytes)

	full := make([]byte, (totalPixels+7)/8)
	copy(full[int(startPixel)/8:], tail)
	return full
}

// DecodeSpatialBits rebuilds the variant-A spatial bitmap for numBlocks
// blocks from the words received on the wire.
func DecodeSpatialBits(words []uint32, numBlocks int) []byte {
	return unpackBytesLE(words, (numBlocks+7)/8)
}

// DecodePaletteMap rebuilds the variant-B palette remap table from the
// words received on the wire.
func DecodePaletteMap(words []uint32, numEntries int) []uint8 {
	return unpackBytesLE(words, numEntries)
}

// DecodeCompressedPixels rebuilds the variant-A literal pixel payload from
// the words received on the wire.
func DecodeCompressedPixels(words []uint32, numPixels int) []uint8 {
	return unpackBytesLE(words, numPixels)
}

// DecodeRLERuns rebuilds the variant-B run list from the words received on
// the wire.
func DecodeRLERuns(words []uint32, numRuns int) []RLERun {
	data := unpackBytesLE(words, numRuns*2)
	runs := make([]RLERun, numRuns)
	for i := range runs {
		runs[i] = RLERun{Length: data[2*i], PixelIndex: data[2*i+1]}
	}
	return runs
}
