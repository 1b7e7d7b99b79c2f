package protocol

// Audio chunk sizing, fixed by the predecessor's GSM 06.10 encoder pipeline
// (one frame = 33 bytes), zero-padded to a 4-byte packet boundary for the
// wire.
const (
	AudioChunkSize   = 33
	AudioPaddedSize  = 36
	AudioSizePackets = AudioPaddedSize / PacketSize
)

// PackAudioChunk zero-pads chunk to AudioPaddedSize and packs it into
// AudioSizePackets words, little-endian within each word per the module's
// packing convention. chunk longer than AudioChunkSize is truncated.
func PackAudioChunk(chunk []byte) []uint32 {
	padded := make([]byte, AudioPaddedSize)
	n := copy(padded, chunk)
	_ = n

	words := make([]uint32, AudioSizePackets)
	for i, b := range padded {
		words[i/4] |= uint32(b) << uint((i%4)*8)
	}
	return words
}

// UnpackAudioChunk reverses PackAudioChunk, returning the original
// AudioChunkSize bytes (the zero padding is dropped).
func UnpackAudioChunk(words []uint32) []byte {
	out := make([]byte, AudioChunkSize)
	for i := range out {
		out[i] = byte(words[i/4] >> uint((i%4)*8))
	}
	return out
}
