package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

// TestMetadataRoundTripProperty generalizes TestMetadataRoundTrip to the
// full range each bitfield actually carries, rather than a handful of
// example cases.
func TestMetadataRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		want := Metadata{
			StartPixel:      uint32(rapid.IntRange(0, 1<<metaStartPixelBits-1).Draw(t, "startPixel")),
			ExpectedPackets: uint32(rapid.IntRange(0, 1<<metaPacksBits-1).Draw(t, "expectedPackets")),
			UseRLE:          rapid.Bool().Draw(t, "useRLE"),
			HasAudio:        rapid.Bool().Draw(t, "hasAudio"),
		}

		got := DecodeMetadata(want.Encode())
		if got != want {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
		if IsCommand(want.Encode()) {
			t.Fatalf("metadata word 0x%08X collided with the command range", want.Encode())
		}
	})
}

// TestSessionOptionsRoundTripProperty generalizes TestSessionOptionsRoundTrip.
func TestSessionOptionsRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		want := SessionOptions{
			RenderMode:   uint32(rapid.IntRange(0, int(resetRenderModeMask)).Draw(t, "renderMode")),
			ControlMap:   uint32(rapid.IntRange(0, int(resetControlMapMask)).Draw(t, "controlMap")),
			Compression:  uint32(rapid.IntRange(0, int(resetCompressionMask)).Draw(t, "compression")),
			CPUOverclock: rapid.Bool().Draw(t, "cpuOverclock"),
		}

		got := DecodeSessionOptions(want.Encode())
		if got != want {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	})
}

// TestAuxCountsRoundTripProperty covers the newer AuxCounts word the same
// way.
func TestAuxCountsRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		want := AuxCounts{
			Count:          uint32(rapid.IntRange(0, int(auxCountMask)).Draw(t, "count")),
			PaletteMapSize: uint32(rapid.IntRange(0, int(auxPaletteSizeMask)).Draw(t, "paletteMapSize")),
		}

		got := DecodeAuxCounts(want.Encode())
		if got != want {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	})
}

// TestKeysRoundTripProperty covers the slave-to-master button bitmap word.
func TestKeysRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		want := uint16(rapid.IntRange(0, 0xFFFF).Draw(t, "buttons"))

		got := DecodeKeys(EncodeKeys(want))
		if got != want {
			t.Fatalf("round trip mismatch: got %04x, want %04x", got, want)
		}
	})
}
