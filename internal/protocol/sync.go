package protocol

import "github.com/lanternops/spilink/internal/spi"

// Sync performs the command-word handshake described in spec.md §4.2: each
// side computes local = command + own offset, remote = command + other
// offset, and the initiating side repeatedly exchanges local, expecting
// remote back. SyncValidations consecutive (local+i, remote+i) matches are
// required before agreement is declared, which both hardens against a
// spurious single-word match and acts as a short nonce handshake.
//
// If the peer replies with CmdReset mid-handshake, Sync aborts and returns
// a KindDesync error so the caller can restart the whole session.
func Sync(link spi.Link, role Role, command uint32) error {
	local := command + role.Offset()
	remote := command + role.Other().Offset()

	for {
		onSync := true
		var lastSeen uint32

		for i := uint32(0); i < SyncValidations; i++ {
			got, err := link.Exchange32(local + i)
			if err != nil {
				return NewError(KindTransport, "sync", err)
			}
			lastSeen = got

			if got == CmdReset {
				return NewError(KindDesync, "sync", errResetReceived)
			}

			if got != remote+i {
				onSync = false
				break
			}
		}

		if onSync {
			return nil
		}

		_ = lastSeen // kept for parity with the predecessor's diagnostic logging
	}
}

// FinishSyncIfNeeded reports whether w looks like a straggling validation
// echo from a Sync(command) the peer is still finishing, rather than a
// genuine reply to whatever was just sent. The predecessor's
// receiveKeysAndSendMetadata retries the metadata exchange in exactly this
// case (a slave still mid-handshake on CMD_FRAME_START can reply with a
// sync-validation word instead of a keys word); without this check a
// stray validation echo would otherwise be misread as pressed buttons.
func FinishSyncIfNeeded(w uint32, role Role, command uint32) bool {
	remote := command + role.Other().Offset()
	for i := uint32(0); i < SyncValidations; i++ {
		if w == remote+i {
			return true
		}
	}
	return false
}

var errResetReceived = resetReceivedError{}

type resetReceivedError struct{}

func (resetReceivedError) Error() string { return "peer issued CMD_RESET during sync" }

// SlaveSync is the slave-side counterpart of Sync. It additionally polls
// mayBreak during each exchange (so audio can be serviced while the master
// is silent) and tracks a caller-supplied "new idle edge" signal (the
// handheld's VBlank transition) as the de-facto timeout: two consecutive
// edges observed without completing a full validation chain mean the
// master has gone silent, and SlaveSync gives up with a KindDesync error
// so the caller resets the session, per spec.md §5.
func SlaveSync(link spi.BreakableLink, role Role, command uint32, isNewEdge func() bool, onBreak func()) error {
	local := command + role.Offset()
	remote := command + role.Other().Offset()

	edgesWithoutProgress := 0

	for {
		onSync := true

		for i := uint32(0); i < SyncValidations; i++ {
			got, broke, err := link.ExchangeBreakable(local+i, isNewEdge)
			if err != nil {
				return NewError(KindTransport, "sync", err)
			}

			if broke {
				if onBreak != nil {
					onBreak()
				}
				edgesWithoutProgress++
				if edgesWithoutProgress >= 2 {
					return NewError(KindDesync, "sync", errMasterSilent)
				}
				onSync = false
				break
			}

			if got == CmdReset {
				return NewError(KindDesync, "sync", errResetReceived)
			}

			if got != remote+i {
				onSync = false
				break
			}
		}

		if onSync {
			return nil
		}
	}
}

var errMasterSilent = masterSilentError{}

type masterSilentError struct{}

func (masterSilentError) Error() string {
	return "two consecutive idle edges elapsed without completing sync"
}

// SlaveSyncEither is the slave-side counterpart used where the master's
// next command isn't known in advance, such as the top of the frame loop
// where a CMD_FRAME_START and an out-of-band CMD_PAUSE are both legal next
// moves. It behaves like SlaveSync, defaulting to primary, but on the
// first validation word of every round it checks whether the word instead
// belongs to alternate's family and switches onto that handshake for the
// rest of the round if so. A wrong initial guess costs at most one wasted
// round: the slave's word on that round's failed index doesn't match what
// the master expects either, so both sides restart the round the same way
// an ordinary phase-misaligned Sync does, just a layer earlier. It returns
// whichever of primary/alternate actually completed.
func SlaveSyncEither(link spi.BreakableLink, role Role, primary, alternate uint32, isNewEdge func() bool, onBreak func()) (uint32, error) {
	command := primary
	edgesWithoutProgress := 0

	for {
		local := command + role.Offset()
		remote := command + role.Other().Offset()
		onSync := true

		for i := uint32(0); i < SyncValidations; i++ {
			got, broke, err := link.ExchangeBreakable(local+i, isNewEdge)
			if err != nil {
				return 0, NewError(KindTransport, "sync", err)
			}

			if broke {
				if onBreak != nil {
					onBreak()
				}
				edgesWithoutProgress++
				if edgesWithoutProgress >= 2 {
					return 0, NewError(KindDesync, "sync", errMasterSilent)
				}
				onSync = false
				break
			}

			if got == CmdReset {
				return 0, NewError(KindDesync, "sync", errResetReceived)
			}

			if i == 0 {
				switch got {
				case primary + role.Other().Offset():
					command, local, remote = primary, primary+role.Offset(), primary+role.Other().Offset()
				case alternate + role.Other().Offset():
					command, local, remote = alternate, alternate+role.Offset(), alternate+role.Other().Offset()
				}
			}

			if got != remote+i {
				onSync = false
				break
			}
		}

		if onSync {
			return command, nil
		}
	}
}
