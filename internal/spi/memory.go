package spi

import "time"

// MemoryLink is an in-process, paired loopback transport. NewMemoryLinkPair
// returns two ends that exchange words with each other, used by every test
// in this module and by the `--demo` mode of the CLI commands (no real SPI
// hardware required).
type MemoryLink struct {
	toPeer   chan uint32
	fromPeer chan uint32
	speed    SpeedHint
}

// NewMemoryLinkPair returns two connected MemoryLink ends. master and slave
// are just labels for which channel each reads/writes first — either end
// can be used from either role.
func NewMemoryLinkPair() (master *MemoryLink, slave *MemoryLink) {
	c1 := make(chan uint32) // master -> slave
	c2 := make(chan uint32) // slave -> master

	master = &MemoryLink{toPeer: c1, fromPeer: c2}
	slave = &MemoryLink{toPeer: c2, fromPeer: c1}
	return master, slave
}

// Exchange32 implements Link by rendezvousing with the peer end: it sends
// word and returns whatever the peer supplies in the matching call.
func (l *MemoryLink) Exchange32(word uint32) (uint32, error) {
	l.toPeer <- word
	return <-l.fromPeer, nil
}

// SetSpeed records the requested clock rate; MemoryLink has no real clock
// to change, but exposes the hint so tests can assert the master selected
// the right one at the right time.
func (l *MemoryLink) SetSpeed(hint SpeedHint) {
	l.speed = hint
}

// Speed returns the last hint passed to SetSpeed.
func (l *MemoryLink) Speed() SpeedHint {
	return l.speed
}

// busyWord is returned to the peer when a transfer is abandoned mid-wait,
// mirroring the predecessor's SPIMaster::transfer, which returns 0xffffffff
// when the slave's busy-GPIO line is asserted.
const busyWord uint32 = 0xFFFFFFFF

const breakPollInterval = 50 * time.Microsecond

// ExchangeBreakable implements BreakableLink. It polls mayBreak while
// waiting for the peer's word; if mayBreak returns true first, the pending
// exchange is abandoned (drained in the background so the peer's blocking
// send still completes) and broke is reported to the caller.
func (l *MemoryLink) ExchangeBreakable(word uint32, mayBreak func() bool) (uint32, bool, error) {
	for {
		if mayBreak != nil && mayBreak() {
			go func() {
				<-l.fromPeer
				l.toPeer <- busyWord
			}()
			return busyWord, true, nil
		}

		select {
		case got := <-l.fromPeer:
			l.toPeer <- word
			return got, false, nil
		default:
			time.Sleep(breakPollInterval)
		}
	}
}
