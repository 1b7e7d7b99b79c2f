// Package api defines the boundary interfaces between the synchronous
// protocol core (internal/master, internal/slave) and whatever owns the
// actual capture devices, audio pipeline, input sink, and display. Callers
// of this module implement these; nothing in internal/ implements them
// except the in-memory demo versions in this package, used by the CLI's
// --demo mode and by tests.
package api

import "github.com/lanternops/spilink/internal/frame"

// FrameSource supplies the master loop with the next frame to diff against
// the previous one. Snapshot must return a frame at exactly
// frame.Width x frame.Height, already quantized to palette indices.
type FrameSource interface {
	Snapshot() (*frame.Frame, error)
}

// AudioSource supplies fixed-size compressed audio chunks. NextChunk may
// return (nil, nil) when no chunk is ready, which the master loop treats as
// "no audio this frame" rather than an error: audio is allowed to drop
// frames to stay realtime.
type AudioSource interface {
	NextChunk() ([]byte, error)
}

// GamepadSink receives the slave's pressed-button bitmap once per frame.
type GamepadSink interface {
	SetButtons(buttons uint16)
}

// ButtonSource is the slave-side counterpart of GamepadSink: it reports
// the handheld's currently pressed buttons so the frame loop can send them
// to the master once per frame.
type ButtonSource interface {
	Buttons() uint16
}

// PlayerDriver is the slave-side audio sink: a device that can report
// whether it wants more data and consume one chunk at a time, pumped one
// step per VBlank.
type PlayerDriver interface {
	NeedsData() bool
	Feed(chunk []byte)
	Step()
}
