// Package slave drives the handheld side of the frame protocol: the Reset
// -> FrameStart -> RxDiffs -> [RxAudio] -> RxPixels -> FrameEnd state
// machine of spec.md §4.6, cooperative audio interleave on VBlank edges,
// and incremental rendering of whatever a Diff describes. Like
// internal/master, the loop itself is single-threaded and cooperative.
package slave

import (
	"github.com/lanternops/spilink/internal/frame"
	"github.com/lanternops/spilink/internal/logging"
	"github.com/lanternops/spilink/internal/palette"
	"github.com/lanternops/spilink/internal/protocol"
	"github.com/lanternops/spilink/internal/spi"
	"github.com/lanternops/spilink/pkg/api"
)

var log = logging.ForRole("slave", logging.RoleSlave)

// Slave holds everything one frame loop needs: the breakable transport,
// the palette LUT, the output renderer, and the boundary interfaces it
// reads buttons from and feeds audio to.
type Slave struct {
	link    spi.BreakableLink
	lut     *palette.LUT
	player  api.PlayerDriver
	buttons api.ButtonSource

	recv         *protocol.Receiver
	vblank       vblankTracker
	vblankSignal func() bool
	audioBuffer  []byte

	renderer *Renderer
	opts     protocol.SessionOptions
	prev     *frame.Frame

	// pendingAux holds the current frame's AuxCounts between rxDiffs and
	// decodePixelPayload, which need it to recover the exact payload
	// length the wire doesn't otherwise carry.
	pendingAux protocol.AuxCounts
}

// New builds a Slave. vblankSignal reports the handheld's raw VBlank line
// level each time it's sampled; player and buttons may be nil for a
// headless (no audio, no input) renderer.
func New(link spi.BreakableLink, lut *palette.LUT, player api.PlayerDriver, buttons api.ButtonSource, vblankSignal func() bool) *Slave {
	s := &Slave{
		link:         link,
		lut:          lut,
		player:       player,
		buttons:      buttons,
		vblankSignal: vblankSignal,
	}
	s.recv = protocol.NewReceiver(link, protocol.RoleSlave)
	s.renderer = NewRenderer(lut, frame.StandardRenderMode)
	s.prev = frame.New(frame.StandardRenderMode.Width, frame.StandardRenderMode.Height)
	return s
}

// Renderer returns the slave's live output framebuffer.
func (s *Slave) Renderer() *Renderer {
	return s.renderer
}

// CurrentFrame returns the slave's current palette-indexed reference
// frame, the result of applying every diff received so far. Exposed
// mainly for tests and a debug snapshot tool; the renderer's RGBA output
// is the only thing a real display consumes.
func (s *Slave) CurrentFrame() *frame.Frame {
	return s.prev
}

// mayBreak is the predicate every breakable exchange polls: it fires
// exactly on a new VBlank edge.
func (s *Slave) mayBreak() bool {
	return s.vblank.Poll(s.vblankSignal())
}

// onBreak runs the cooperative audio step the predecessor calls
// drive_audio: feed the player whatever was buffered this frame, then
// pump it one step, before the interrupted exchange resumes via
// CMD_RECOVERY.
func (s *Slave) onBreak() {
	driveAudio(s.player, s.audioBuffer)
	s.audioBuffer = nil
}

// never is the mayBreak predicate for exchanges that must not break, used
// only to route a single word through ExchangeBreakable's receive-first
// polling loop instead of Link.Exchange32's send-first one. The master
// side always sends first on these words, so the slave side must always
// receive first to avoid both ends blocking on a send with no reader.
func never() bool { return false }

// exchangeWord performs one non-breakable word exchange, receive-first.
func (s *Slave) exchangeWord(word uint32) (uint32, error) {
	got, _, err := s.link.ExchangeBreakable(word, never)
	return got, err
}

// Reset waits for the master's CMD_RESET handshake, decodes the session
// options word that follows, and reconfigures the renderer and reference
// frame for the negotiated render mode.
func (s *Slave) Reset() error {
	if err := protocol.SlaveSync(s.link, protocol.RoleSlave, protocol.CmdReset, s.mayBreak, s.onBreak); err != nil {
		return err
	}

	optsWord, err := s.exchangeWord(0)
	if err != nil {
		return protocol.NewError(protocol.KindTransport, "reset", err)
	}
	s.opts = protocol.DecodeSessionOptions(optsWord)

	mode := frame.RenderModeByID(s.opts.RenderMode)
	s.renderer = NewRenderer(s.lut, mode)
	s.prev = frame.New(mode.Width, mode.Height)
	log.Info("session reset", "renderMode", s.opts.RenderMode, "width", mode.Width, "height", mode.Height)
	return nil
}

// RunFrame runs exactly one iteration of the slave's frame loop, or
// services a CMD_PAUSE/CMD_RESUME round if the master issues one instead
// of starting a frame. rendered is false (with a nil error) when a
// pause/resume round was serviced and no frame was exchanged; the caller
// should just call RunFrame again. Any error means the caller should fall
// through to Reset, per spec.md §7's policy that every unrecoverable
// error jumps back to session reset.
func (s *Slave) RunFrame() (rendered bool, err error) {
	command, err := protocol.SlaveSyncEither(s.link, protocol.RoleSlave, protocol.CmdFrameStart, protocol.CmdPause, s.mayBreak, s.onBreak)
	if err != nil {
		return false, err
	}
	if command == protocol.CmdPause {
		log.Info("session paused")
		if err := protocol.SlaveSync(s.link, protocol.RoleSlave, protocol.CmdResume, s.mayBreak, s.onBreak); err != nil {
			return false, err
		}
		log.Info("session resumed")
		return false, nil
	}

	meta, err := s.frameStart()
	if err != nil {
		return false, err
	}

	diff := &frame.Diff{
		StartPixel: meta.StartPixel,
		UseRLE:     meta.UseRLE,
		HasAudio:   meta.HasAudio,
	}

	if meta.ExpectedPackets > 0 {
		if err := s.rxDiffs(meta, diff); err != nil {
			return false, err
		}
	} else {
		diff.TemporalBits = make([]byte, (s.totalPixels()+7)/8)
	}

	if meta.HasAudio {
		if err := protocol.SlaveSync(s.link, protocol.RoleSlave, protocol.CmdAudio, s.mayBreak, s.onBreak); err != nil {
			return false, err
		}
		audioWords := make([]uint32, protocol.AudioSizePackets)
		if err := s.recv.ReceiveSequence(audioWords, s.mayBreak, s.onBreak); err != nil {
			return false, err
		}
		s.audioBuffer = protocol.UnpackAudioChunk(audioWords)
	}

	if err := protocol.SlaveSync(s.link, protocol.RoleSlave, protocol.CmdPixels, s.mayBreak, s.onBreak); err != nil {
		return false, err
	}
	if meta.ExpectedPackets > 0 {
		pixelWords := make([]uint32, meta.ExpectedPackets)
		if err := s.recv.ReceiveSequence(pixelWords, s.mayBreak, s.onBreak); err != nil {
			return false, err
		}
		s.decodePixelPayload(pixelWords, diff)
	}

	if err := protocol.SlaveSync(s.link, protocol.RoleSlave, protocol.CmdFrameEnd, s.mayBreak, s.onBreak); err != nil {
		return false, err
	}

	curr, err := frame.Apply(s.prev, diff)
	if err != nil {
		return false, err
	}
	s.renderer.BlitChanged(curr, diff)
	s.prev = curr

	return true, nil
}

func (s *Slave) totalPixels() int {
	return s.prev.Width * s.prev.Height
}

// frameStart performs the metadata/keys exchange of spec.md §4.5 step 2
// from the slave's side: offer the local button bitmap, receive metadata,
// then echo it back so the master can verify.
func (s *Slave) frameStart() (protocol.Metadata, error) {
	buttons := uint16(0)
	if s.buttons != nil {
		buttons = s.buttons.Buttons()
	}

	metaWord, err := s.exchangeWord(protocol.EncodeKeys(buttons))
	if err != nil {
		return protocol.Metadata{}, protocol.NewError(protocol.KindTransport, "frame_start", err)
	}

	if _, err := s.exchangeWord(metaWord); err != nil {
		return protocol.Metadata{}, protocol.NewError(protocol.KindTransport, "frame_start", err)
	}

	return protocol.DecodeMetadata(metaWord), nil
}

// rxDiffs receives the aux-count header, the temporal bitmap, and the
// variant-specific auxiliary structure, populating diff in place.
func (s *Slave) rxDiffs(meta protocol.Metadata, diff *frame.Diff) error {
	auxWord, err := s.exchangeWord(0)
	if err != nil {
		return protocol.NewError(protocol.KindTransport, "aux_counts", err)
	}
	aux := protocol.DecodeAuxCounts(auxWord)

	total := s.totalPixels()
	nTemporalBytes := (total - int(meta.StartPixel) + 7) / 8
	nTemporalWords := (nTemporalBytes + 3) / 4
	temporalWords := make([]uint32, nTemporalWords)
	if err := s.recv.ReceiveSequence(temporalWords, s.mayBreak, s.onBreak); err != nil {
		return err
	}
	diff.TemporalBits = frame.DecodeTemporalBits(temporalWords, total, meta.StartPixel)

	if diff.UseRLE {
		nAuxWords := (int(aux.PaletteMapSize) + 3) / 4
		auxWords := make([]uint32, nAuxWords)
		if err := s.recv.ReceiveSequence(auxWords, s.mayBreak, s.onBreak); err != nil {
			return err
		}
		diff.PaletteMap = frame.DecodePaletteMap(auxWords, int(aux.PaletteMapSize))
	} else {
		numBlocks := int(aux.Count)
		nAuxWords := ((numBlocks+7)/8 + 3) / 4
		auxWords := make([]uint32, nAuxWords)
		if err := s.recv.ReceiveSequence(auxWords, s.mayBreak, s.onBreak); err != nil {
			return err
		}
		diff.SpatialBits = frame.DecodeSpatialBits(auxWords, numBlocks)
	}

	diff.ExpectedPackets = meta.ExpectedPackets
	s.pendingAux = aux
	return nil
}

// decodePixelPayload turns the received pixel words into diff's payload.
// The run count (variant B) is the AuxCounts word's Count; the pixel byte
// count (variant A) follows from the popcount invariant: changed pixels
// minus SpatialBlockSize-1 for each repeated block.
func (s *Slave) decodePixelPayload(pixelWords []uint32, diff *frame.Diff) {
	aux := s.pendingAux

	if diff.UseRLE {
		numRuns := int(aux.Count)
		diff.RLERuns = frame.DecodeRLERuns(pixelWords, numRuns)
		return
	}

	changed := frame.PopcountBits(diff.TemporalBits)
	repeatedBlocks := frame.PopcountBits(diff.SpatialBits)
	payloadLen := changed - repeatedBlocks*(frame.SpatialBlockSize-1)
	if payloadLen < 0 {
		payloadLen = 0
	}
	diff.CompressedPixels = frame.DecodeCompressedPixels(pixelWords, payloadLen)
}
