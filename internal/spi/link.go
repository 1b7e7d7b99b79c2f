// Package spi defines the raw transport boundary the frame protocol rides
// on, and provides an in-memory loopback implementation used by every test
// in this module, plus a real hardware binding for Linux SPI devices.
package spi

// Link is the raw, full-duplex 4-byte exchange the protocol is built on.
// Implementations are blocking, unbuffered, and never retry: the protocol
// layer owns all retry/resync semantics. Words are logically big-endian on
// the wire; Link implementations are responsible for that conversion, not
// callers.
type Link interface {
	// Exchange32 sends word and returns whatever the peer sent back in
	// the same 4-byte slot.
	Exchange32(word uint32) (uint32, error)
}

// BreakableLink is implemented by slave-side links that can poll a
// caller-supplied predicate while waiting on a transfer, aborting early if
// it returns true. This is the sole pre-emption mechanism used to service
// audio between pixel packets without ever running concurrently with a
// transfer.
type BreakableLink interface {
	Link
	// ExchangeBreakable behaves like Exchange32, but polls mayBreak
	// during the wait. If mayBreak returns true before the exchange
	// completes, the exchange is aborted, broke is set to true, and the
	// returned word is meaningless.
	ExchangeBreakable(word uint32, mayBreak func() bool) (result uint32, broke bool, err error)
}

// SpeedHint lets a master-side link pick a clock rate per call: a slower
// clock for command/sync exchanges, a faster one for bulk payload. Links
// that don't support dynamic speed (e.g. the in-memory loopback) may treat
// this as a no-op.
type SpeedHint int

const (
	SpeedCommand SpeedHint = iota
	SpeedBulk
)

// SpeedSettable is implemented by links whose clock rate can be switched
// per exchange.
type SpeedSettable interface {
	SetSpeed(hint SpeedHint)
}
