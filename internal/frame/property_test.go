package frame

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/lanternops/spilink/internal/palette"
)

// randomFrame draws a Frame whose pixels are independently chosen palette
// indices, the same shape Encode/Apply see from a real capture: no spatial
// structure assumed, since the encoder must hold for the worst case.
func randomFrame(t *rapid.T, label string) *Frame {
	f := New(Width, Height)
	for i := range f.Pixels {
		f.Pixels[i] = uint8(rapid.IntRange(0, 255).Draw(t, label))
	}
	return f
}

// TestEncodeApplyRoundTrip is spec.md §8's round-trip law: Apply(prev,
// Encode(prev, curr)) reproduces curr at every pixel whose distance from
// prev exceeds the threshold, for any pair of frames and any compression
// threshold. Exercises both variant A (spatial) and
// variant B (RLE) since Encode picks whichever compresses better per
// frame.
func TestEncodeApplyRoundTrip(t *testing.T) {
	lut := palette.Default()

	rapid.Check(t, func(t *rapid.T) {
		prev := randomFrame(t, "prev")
		curr := randomFrame(t, "curr")
		threshold := DiffThresholds[rapid.IntRange(0, 3).Draw(t, "compression")]

		diff, err := Encode(prev, curr, lut, threshold)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		got, err := Apply(prev, diff)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}

		for i := range curr.Pixels {
			wantChanged := lut.Distance(prev.Pixels[i], curr.Pixels[i]) > threshold
			if !wantChanged {
				continue // unchanged pixels are allowed to differ within threshold
			}
			if got.Pixels[i] != curr.Pixels[i] {
				t.Fatalf("pixel %d = %d, want %d (prev=%d, threshold=%d)", i, got.Pixels[i], curr.Pixels[i], prev.Pixels[i], threshold)
			}
		}
	})
}

// TestEncodeApplyIdempotentOnNoChange is the reset/no-change idempotence
// property: encoding a frame against itself always produces a Diff that,
// applied, reproduces the identical frame, regardless of how many times
// that round-trip repeats.
func TestEncodeApplyIdempotentOnNoChange(t *testing.T) {
	lut := palette.Default()

	rapid.Check(t, func(t *rapid.T) {
		base := randomFrame(t, "base")
		threshold := DiffThresholds[rapid.IntRange(0, 3).Draw(t, "compression")]

		curr := base
		for i := 0; i < 3; i++ {
			diff, err := Encode(curr, curr, lut, threshold)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if diff.ExpectedPackets != 0 {
				t.Fatalf("iteration %d: ExpectedPackets = %d, want 0 for a frame diffed against itself", i, diff.ExpectedPackets)
			}

			next, err := Apply(curr, diff)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			for p := range curr.Pixels {
				if next.Pixels[p] != curr.Pixels[p] {
					t.Fatalf("iteration %d: pixel %d = %d, want %d (unchanged)", i, p, next.Pixels[p], curr.Pixels[p])
				}
			}
			curr = next
		}
	})
}

// TestChangedCountMatchesPopcount is the popcount invariant of spec.md §8:
// the number of set temporal bits a Diff carries always equals the count
// ChangedIndices actually returns, for any threshold and any frame pair.
func TestChangedCountMatchesPopcount(t *testing.T) {
	lut := palette.Default()

	rapid.Check(t, func(t *rapid.T) {
		prev := randomFrame(t, "prev")
		curr := randomFrame(t, "curr")
		threshold := DiffThresholds[rapid.IntRange(0, 3).Draw(t, "compression")]

		diff, err := Encode(prev, curr, lut, threshold)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		if got, want := diff.ChangedCount(), len(diff.ChangedIndices(TotalPixels)); got != want {
			t.Fatalf("ChangedCount() = %d, len(ChangedIndices()) = %d", got, want)
		}
	})
}
