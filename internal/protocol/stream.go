package protocol

import "github.com/lanternops/spilink/internal/spi"

// ReliableStream is the master-side checkpointed bulk transfer described in
// spec.md §4.2, grounded on the predecessor's ReliableStream::send. Every
// TransferSyncFrequency-th packet is sent with reliablySend, which inspects
// the slave's echoed index to detect a clean advance, a CMD_RECOVERY
// request after a slave-side break, or an unrecoverable desync.
type ReliableStream struct {
	link spi.Link
	role Role

	// OnRecovery, if set, is called each time a checkpoint triggers a
	// CMD_RECOVERY sync. Used by internal/master to feed its metrics
	// counter; nil is fine and skips the call.
	OnRecovery func()
}

// NewReliableStream wraps link for checkpointed sends under role.
func NewReliableStream(link spi.Link, role Role) *ReliableStream {
	return &ReliableStream{link: link, role: role}
}

// Send transfers packets in order under the given command, switching the
// link to the bulk clock rate if it supports SpeedSettable. It returns a
// *Error (KindDesync) if the peer is unrecoverably out of step.
func (s *ReliableStream) Send(packets []uint32, command uint32) error {
	if ss, ok := s.link.(spi.SpeedSettable); ok {
		ss.SetSpeed(spi.SpeedBulk)
	}

	total := uint32(len(packets))
	index := uint32(0)

	for index < total {
		if index%TransferSyncFrequency == 0 {
			next, err := s.reliablySend(packets[index], index, total)
			if err != nil {
				return err
			}
			index = next
			continue
		}

		if _, err := s.link.Exchange32(packets[index]); err != nil {
			return NewError(KindTransport, "send", err)
		}
		index++
	}

	return nil
}

// reliablySend exchanges one checkpoint packet and interprets the echoed
// word per spec.md §4.2:
//   - echo == index: on track, advance past this packet.
//   - echo < total and echo != index: the slave thinks it's somewhere else
//     in the stream; unrecoverable.
//   - echo >= total: not an index at all. CMD_RECOVERY+other-offset means
//     the slave broke and is requesting a recovery sync; CMD_RESET means
//     abort; anything else (typically the link's busy sentinel) is line
//     noise and this checkpoint is simply retried next iteration.
func (s *ReliableStream) reliablySend(packet, index, total uint32) (uint32, error) {
	echo, err := s.link.Exchange32(packet)
	if err != nil {
		return 0, NewError(KindTransport, "reliablySend", err)
	}

	switch {
	case echo == index:
		return index + 1, nil

	case echo < total:
		return 0, NewError(KindDesync, "reliablySend", errCheckpointMismatch)

	case echo == CmdRecovery+s.role.Other().Offset():
		if s.OnRecovery != nil {
			s.OnRecovery()
		}
		if err := Sync(s.link, s.role, CmdRecovery); err != nil {
			return 0, err
		}
		next, err := s.link.Exchange32(0)
		if err != nil {
			return 0, NewError(KindTransport, "reliablySend", err)
		}
		return next, nil

	case echo == CmdReset:
		return 0, NewError(KindDesync, "reliablySend", errResetReceived)

	default:
		// Line noise (e.g. the slave's busy sentinel from a break that
		// hasn't resolved yet): retry the same checkpoint.
		return index, nil
	}
}

var errCheckpointMismatch = checkpointMismatchError{}

type checkpointMismatchError struct{}

func (checkpointMismatchError) Error() string {
	return "slave echoed an index outside the expected stream"
}

// Receiver is the slave-side counterpart of ReliableStream. Every exchange
// it performs polls mayBreak so audio can be serviced between packets; on a
// break it runs the CMD_RECOVERY handshake and replays the interrupted
// word, mirroring the predecessor's transfer() helper used throughout
// gba/src/_main.cpp's receive loops.
type Receiver struct {
	link spi.BreakableLink
	role Role
}

// NewReceiver wraps link for break-aware receives under role.
func NewReceiver(link spi.BreakableLink, role Role) *Receiver {
	return &Receiver{link: link, role: role}
}

// neverBreak is the mayBreak predicate for a ReceiveWord recovery replay:
// the break already happened, so none of these exchanges should break
// again, but they must still go through ExchangeBreakable's receive-first
// path rather than Exchange32's send-first one. Master always sends first
// on every one of these words, so the slave side must always receive
// first, or both ends block on a send with no reader.
func neverBreak() bool { return false }

// receiveFirst performs one non-breakable exchange, receive-first.
func (r *Receiver) receiveFirst(outgoing uint32) (uint32, error) {
	got, _, err := r.link.ExchangeBreakable(outgoing, neverBreak)
	if err != nil {
		return 0, NewError(KindTransport, "receive", err)
	}
	return got, nil
}

// ReceiveWord exchanges one word, offering outgoing as this side's value
// (typically the index currently being retried, per the predecessor's
// convention of echoing position rather than payload during slave-to-master
// transfers). If mayBreak fires mid-exchange, onBreak runs once, a
// CMD_RECOVERY sync re-establishes lockstep, and outgoing is replayed twice
// — once to let the master read back this side's resumption index, once to
// actually complete the original exchange — matching the predecessor's
// double transfer() call immediately after sync(CMD_RECOVERY). The sync and
// both replays use SlaveSync/receiveFirst rather than Sync/Exchange32: the
// master's matching reliablySend recovery branch always sends first, so
// this side must always receive first to complete the rendezvous instead of
// both ends blocking on their own send.
func (r *Receiver) ReceiveWord(outgoing uint32, mayBreak func() bool, onBreak func()) (uint32, error) {
	got, broke, err := r.link.ExchangeBreakable(outgoing, mayBreak)
	if err != nil {
		return 0, NewError(KindTransport, "receive", err)
	}
	if !broke {
		return got, nil
	}

	if onBreak != nil {
		onBreak()
	}

	if err := SlaveSync(r.link, r.role, CmdRecovery, neverBreak, nil); err != nil {
		return 0, err
	}

	if _, err := r.receiveFirst(outgoing); err != nil {
		return 0, err
	}
	got, err = r.receiveFirst(outgoing)
	if err != nil {
		return 0, err
	}
	return got, nil
}

// ReceiveSequence fills dst by repeated ReceiveWord calls, each offering
// the packet's index as this side's outgoing word. Used for the bulk
// arrays (temporal diffs, spatial blocks or RLE runs, audio chunks,
// pixels) where a break may land on any packet.
func (r *Receiver) ReceiveSequence(dst []uint32, mayBreak func() bool, onBreak func()) error {
	for i := range dst {
		got, err := r.ReceiveWord(uint32(i), mayBreak, onBreak)
		if err != nil {
			return err
		}
		dst[i] = got
	}
	return nil
}
