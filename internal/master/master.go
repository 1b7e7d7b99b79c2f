// Package master drives the host side of the frame protocol: the
// synchronous frame loop (sync -> metadata/keys -> diff bitmaps -> optional
// audio -> pixels -> sync), session reset option negotiation, and a
// metrics snapshot for the ambient logging/status layer. Like
// internal/protocol, the loop itself is single-threaded and cooperative;
// any concurrency (a ticker, a shutdown signal) belongs to the caller.
package master

import (
	"fmt"
	"time"

	"github.com/lanternops/spilink/internal/frame"
	"github.com/lanternops/spilink/internal/logging"
	"github.com/lanternops/spilink/internal/palette"
	"github.com/lanternops/spilink/internal/protocol"
	"github.com/lanternops/spilink/internal/spi"
	"github.com/lanternops/spilink/pkg/api"
)

var log = logging.ForRole("master", logging.RoleMaster)

// Options configures a Master for one session, encoding directly into the
// reset word's bit-fields.
type Options struct {
	RenderMode   uint32
	ControlMap   uint32
	Compression  uint32 // 0..3, indexes frame.DiffThresholds
	CPUOverclock bool
}

func (o Options) sessionOptions() protocol.SessionOptions {
	return protocol.SessionOptions{
		RenderMode:   o.RenderMode,
		ControlMap:   o.ControlMap,
		Compression:  o.Compression,
		CPUOverclock: o.CPUOverclock,
	}
}

func (o Options) diffThreshold() int {
	c := o.Compression
	if c > 3 {
		c = 3
	}
	return frame.DiffThresholds[c]
}

// Master holds everything one frame loop needs: the transport, the
// boundary interfaces it pulls frames/audio from and pushes buttons to,
// and the running previous frame.
type Master struct {
	link    spi.Link
	lut     *palette.LUT
	frames  api.FrameSource
	audio   api.AudioSource
	gamepad api.GamepadSink

	opts Options
	prev *frame.Frame

	stream  *protocol.ReliableStream
	metrics *Metrics
}

// New builds a Master. prev is the session's initial reference frame
// (typically a blank frame(Width, Height)); it is never mutated directly,
// only replaced wholesale as frames complete.
func New(link spi.Link, lut *palette.LUT, frames api.FrameSource, audio api.AudioSource, gamepad api.GamepadSink, opts Options, prev *frame.Frame) *Master {
	m := &Master{
		link:    link,
		lut:     lut,
		frames:  frames,
		audio:   audio,
		gamepad: gamepad,
		opts:    opts,
		prev:    prev,
		metrics: newMetrics(),
	}
	m.stream = protocol.NewReliableStream(link, protocol.RoleMaster)
	m.stream.OnRecovery = func() {
		m.metrics.recordRecovery()
		log.Warn("stream recovery", "recoveries", m.metrics.Snapshot().Recoveries)
	}
	return m
}

// Metrics returns the running metrics snapshot source.
func (m *Master) Metrics() *Metrics {
	return m.metrics
}

// Reset performs the CMD_RESET handshake and sends the session options
// word the slave uses to configure itself before the first FrameStart.
// Per spec.md §4.7, the options word follows immediately after the reset
// sync completes, with no reply expected.
func (m *Master) Reset() error {
	if err := protocol.Sync(m.link, protocol.RoleMaster, protocol.CmdReset); err != nil {
		return err
	}
	m.metrics.recordResync()
	log.Info("session reset", "renderMode", m.opts.RenderMode, "compression", m.opts.Compression)

	if _, err := m.link.Exchange32(m.opts.sessionOptions().Encode()); err != nil {
		return protocol.NewError(protocol.KindTransport, "reset", err)
	}
	return nil
}

// Pause issues the CMD_PAUSE handshake in place of the next frame's
// CMD_FRAME_START, telling the slave to stop expecting frame traffic. The
// caller must not call RunFrame again until Resume completes.
func (m *Master) Pause() error {
	if err := protocol.Sync(m.link, protocol.RoleMaster, protocol.CmdPause); err != nil {
		return err
	}
	m.metrics.recordResync()
	log.Info("session paused")
	return nil
}

// Resume issues the CMD_RESUME handshake that ends a Pause, after which
// the caller may resume calling RunFrame.
func (m *Master) Resume() error {
	if err := protocol.Sync(m.link, protocol.RoleMaster, protocol.CmdResume); err != nil {
		return err
	}
	m.metrics.recordResync()
	log.Info("session resumed")
	return nil
}

var errMetadataMismatch = metadataMismatchError{}

type metadataMismatchError struct{}

func (metadataMismatchError) Error() string { return "slave did not echo the metadata word" }

// RunFrame runs exactly one iteration of the frame loop described in
// spec.md §4.5: sync(FRAME_START), metadata/keys exchange, diff bitmaps,
// optional audio, pixels, sync(FRAME_END). On success it updates the
// running previous frame and delivers the slave's buttons to gamepad.
func (m *Master) RunFrame() error {
	curr, err := m.frames.Snapshot()
	if err != nil {
		return fmt.Errorf("master: snapshot frame: %w", err)
	}

	start := time.Now()
	diff, err := frame.Encode(m.prev, curr, m.lut, m.opts.diffThreshold())
	if err != nil {
		return fmt.Errorf("master: encode diff: %w", err)
	}
	encodeDur := time.Since(start)

	audioChunk, err := m.nextAudioChunk()
	if err != nil {
		return fmt.Errorf("master: next audio chunk: %w", err)
	}

	if err := protocol.Sync(m.link, protocol.RoleMaster, protocol.CmdFrameStart); err != nil {
		return err
	}
	m.metrics.recordResync()

	meta := protocol.Metadata{
		StartPixel:      diff.StartPixel,
		ExpectedPackets: diff.ExpectedPackets,
		UseRLE:          diff.UseRLE,
		HasAudio:        audioChunk != nil,
	}
	keys, err := m.exchangeMetadataAndKeys(meta)
	if err != nil {
		return err
	}

	bytesSent := 4 // metadata word itself
	packets := 1

	if diff.ExpectedPackets > 0 {
		aux := protocol.AuxCounts{}
		if diff.UseRLE {
			aux.Count = uint32(len(diff.RLERuns))
			aux.PaletteMapSize = uint32(len(diff.PaletteMap))
		} else {
			aux.Count = uint32((diff.ChangedCount() + frame.SpatialBlockSize - 1) / frame.SpatialBlockSize)
		}
		if _, err := m.link.Exchange32(aux.Encode()); err != nil {
			return protocol.NewError(protocol.KindTransport, "aux_counts", err)
		}
		bytesSent += protocol.PacketSize
		packets++

		n, err := m.sendDiffBitmaps(diff)
		if err != nil {
			return err
		}
		packets += n
		bytesSent += n * protocol.PacketSize
	}

	if audioChunk != nil {
		if err := protocol.Sync(m.link, protocol.RoleMaster, protocol.CmdAudio); err != nil {
			return err
		}
		m.metrics.recordResync()

		audioWords := protocol.PackAudioChunk(audioChunk)
		if err := m.stream.Send(audioWords, protocol.CmdAudio); err != nil {
			return err
		}
		packets += len(audioWords)
		bytesSent += len(audioWords) * protocol.PacketSize
	}

	// PIXELS is synced every frame, per spec.md §8's no-change scenario,
	// even when there's nothing to transfer.
	if err := protocol.Sync(m.link, protocol.RoleMaster, protocol.CmdPixels); err != nil {
		return err
	}
	m.metrics.recordResync()

	if diff.ExpectedPackets > 0 {
		pixelWords := diff.PixelWords()
		if err := m.stream.Send(pixelWords, protocol.CmdPixels); err != nil {
			return err
		}
		packets += len(pixelWords)
		bytesSent += len(pixelWords) * protocol.PacketSize
	}

	if err := protocol.Sync(m.link, protocol.RoleMaster, protocol.CmdFrameEnd); err != nil {
		return err
	}
	m.metrics.recordResync()

	m.gamepad.SetButtons(keys)
	m.prev = curr
	m.metrics.recordFrame(packets, bytesSent, encodeDur)
	return nil
}

// exchangeMetadataAndKeys implements the metadata/keys concurrent exchange
// of spec.md §4.5 step 2, retrying when the slave's reply is actually a
// straggling sync-validation echo still finishing FRAME_START (the
// predecessor's receiveKeysAndSendMetadata "goto again" case).
func (m *Master) exchangeMetadataAndKeys(meta protocol.Metadata) (uint16, error) {
	metaWord := meta.Encode()

	for {
		keysWord, err := m.link.Exchange32(metaWord)
		if err != nil {
			return 0, protocol.NewError(protocol.KindTransport, "metadata", err)
		}

		if protocol.FinishSyncIfNeeded(keysWord, protocol.RoleMaster, protocol.CmdFrameStart) {
			continue
		}

		echoed, err := m.link.Exchange32(keysWord)
		if err != nil {
			return 0, protocol.NewError(protocol.KindTransport, "metadata", err)
		}
		if echoed != metaWord {
			return 0, protocol.NewError(protocol.KindDesync, "metadata", errMetadataMismatch)
		}

		return protocol.DecodeKeys(keysWord), nil
	}
}

// sendDiffBitmaps ships the temporal bitmap followed by whichever
// auxiliary structure the chosen variant needs (spatial bits for variant A,
// palette map for variant B), returning the packet count sent.
func (m *Master) sendDiffBitmaps(diff *frame.Diff) (int, error) {
	temporal := diff.TemporalWords(frame.TotalPixels)
	if err := m.stream.Send(temporal, protocol.CmdSpatialDiffsStart); err != nil {
		return 0, err
	}
	sent := len(temporal)

	if diff.UseRLE {
		aux := diff.PaletteMapWords()
		if err := m.stream.Send(aux, protocol.CmdSpatialDiffsStart); err != nil {
			return sent, err
		}
		sent += len(aux)
	} else {
		aux := diff.SpatialWords()
		if err := m.stream.Send(aux, protocol.CmdSpatialDiffsStart); err != nil {
			return sent, err
		}
		sent += len(aux)
	}

	return sent, nil
}

func (m *Master) nextAudioChunk() ([]byte, error) {
	if m.audio == nil {
		return nil, nil
	}
	chunk, err := m.audio.NextChunk()
	if err != nil {
		return nil, err
	}
	if len(chunk) == 0 {
		return nil, nil
	}
	return chunk, nil
}
