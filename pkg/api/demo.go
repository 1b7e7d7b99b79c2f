package api

import (
	"sync"

	"github.com/lanternops/spilink/internal/frame"
)

// DemoFrameSource cycles through a small set of preloaded frames, looping
// back to the first once exhausted. Used by the CLI's --demo mode and by
// integration tests that need a FrameSource without a real capture device.
type DemoFrameSource struct {
	mu     sync.Mutex
	frames []*frame.Frame
	next   int
}

// NewDemoFrameSource returns a FrameSource that serves frames in order,
// repeating the sequence indefinitely. Panics if frames is empty, since a
// source with nothing to serve indicates a setup bug, not a runtime
// condition.
func NewDemoFrameSource(frames []*frame.Frame) *DemoFrameSource {
	if len(frames) == 0 {
		panic("api: NewDemoFrameSource requires at least one frame")
	}
	return &DemoFrameSource{frames: frames}
}

func (s *DemoFrameSource) Snapshot() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frames[s.next].Clone()
	s.next = (s.next + 1) % len(s.frames)
	return f, nil
}

// DemoAudioSource cycles through a fixed ring of chunks indefinitely. With
// no chunks it returns (nil, nil) every time, matching the real contract
// that audio may legitimately have nothing ready for a given frame.
type DemoAudioSource struct {
	mu     sync.Mutex
	chunks [][]byte
	next   int
}

// NewDemoAudioSource returns an AudioSource cycling through chunks.
func NewDemoAudioSource(chunks [][]byte) *DemoAudioSource {
	return &DemoAudioSource{chunks: chunks}
}

func (s *DemoAudioSource) NextChunk() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return nil, nil
	}
	c := s.chunks[s.next]
	s.next = (s.next + 1) % len(s.chunks)
	return c, nil
}

// DemoGamepadSink records the most recently received button bitmap.
type DemoGamepadSink struct {
	mu      sync.Mutex
	buttons uint16
}

func (s *DemoGamepadSink) SetButtons(buttons uint16) {
	s.mu.Lock()
	s.buttons = buttons
	s.mu.Unlock()
}

// Buttons returns the last bitmap received.
func (s *DemoGamepadSink) Buttons() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttons
}

// DemoButtonSource is a settable ButtonSource for the slave side of a demo
// or test session.
type DemoButtonSource struct {
	mu      sync.Mutex
	buttons uint16
}

// SetPressed updates the bitmap DemoButtonSource reports.
func (s *DemoButtonSource) SetPressed(buttons uint16) {
	s.mu.Lock()
	s.buttons = buttons
	s.mu.Unlock()
}

func (s *DemoButtonSource) Buttons() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttons
}

// DemoPlayerDriver is a no-op audio sink that gives a fixed NeedsData
// answer and counts the chunks and steps it's fed, so tests and the demo command can assert
// the slave's audio interleave actually ran.
type DemoPlayerDriver struct {
	mu          sync.Mutex
	fedChunks   int
	steps       int
	alwaysWants bool
}

// NewDemoPlayerDriver returns a PlayerDriver that reports NeedsData as
// alwaysWants on every call.
func NewDemoPlayerDriver(alwaysWants bool) *DemoPlayerDriver {
	return &DemoPlayerDriver{alwaysWants: alwaysWants}
}

func (d *DemoPlayerDriver) NeedsData() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alwaysWants
}

func (d *DemoPlayerDriver) Feed(chunk []byte) {
	d.mu.Lock()
	d.fedChunks++
	d.mu.Unlock()
}

func (d *DemoPlayerDriver) Step() {
	d.mu.Lock()
	d.steps++
	d.mu.Unlock()
}

// Stats returns the number of chunks fed and steps pumped so far.
func (d *DemoPlayerDriver) Stats() (fedChunks, steps int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fedChunks, d.steps
}
