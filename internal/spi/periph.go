//go:build linux

// Real hardware SPI binding. Grounded on n0remac-robot-webrtc's
// cmd/servo/main.go pattern: try to open the real bus, and fall back to a
// no-op bus (logged, not fatal) when the device node isn't present — the
// same shape that repo uses for /dev/i2c-1, applied here to /dev/spidevN.M.

package spi

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/lanternops/spilink/internal/logging"
)

var log = logging.L("spi")

var hostInitOnce sync.Once
var hostInitErr error

func initHost() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// PeriphLink drives a real SPI bus via periph.io in mode 3. The port is
// connected once, at slowHz, and every transfer runs at that rate; fastHz
// is stored but not applied. The handheld's MISO "busy" line is not read.
type PeriphLink struct {
	port  spi.PortCloser
	conn  spi.Conn
	speed SpeedHint

	slowHz int64
	fastHz int64
}

// NewPeriphLink opens devicePath (e.g. "/dev/spidev0.0") in SPI mode 3 and
// returns a Link. If the device node doesn't exist, it returns a no-op
// link that logs a warning and echoes zero, so development/demo flows
// don't require real hardware.
func NewPeriphLink(devicePath string, slowHz, fastHz int64) (Link, error) {
	if _, err := os.Stat(devicePath); err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			log.Warn("SPI device not found, falling back to no-op link", "path", devicePath)
			return &noopLink{}, nil
		}
		return nil, fmt.Errorf("spi: stat %s: %w", devicePath, err)
	}

	if err := initHost(); err != nil {
		return nil, fmt.Errorf("spi: host init: %w", err)
	}

	port, err := spireg.Open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("spi: open %s: %w", devicePath, err)
	}

	conn, err := port.Connect(physic.Frequency(slowHz)*physic.Hertz, spi.Mode3, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("spi: connect %s: %w", devicePath, err)
	}

	return &PeriphLink{port: port, conn: conn, slowHz: slowHz, fastHz: fastHz}, nil
}

// SetSpeed records the requested command or bulk-payload hint. Exchange32
// does not consult it: the clock rate stays the one set at connect time.
func (l *PeriphLink) SetSpeed(hint SpeedHint) {
	l.speed = hint
}

// Exchange32 performs one full-duplex 4-byte transfer, big-endian on the
// wire regardless of host byte order.
func (l *PeriphLink) Exchange32(word uint32) (uint32, error) {
	var tx [4]byte
	tx[0] = byte(word >> 24)
	tx[1] = byte(word >> 16)
	tx[2] = byte(word >> 8)
	tx[3] = byte(word)

	var rx [4]byte
	if err := l.conn.Tx(tx[:], rx[:]); err != nil {
		return 0, fmt.Errorf("spi: exchange: %w", err)
	}

	return uint32(rx[0])<<24 | uint32(rx[1])<<16 | uint32(rx[2])<<8 | uint32(rx[3]), nil
}

// ExchangeBreakable checks mayBreak once before issuing the transfer. A
// 4-byte SPI transfer is effectively atomic at these clock rates, so
// unlike MemoryLink's polling loop there's no meaningful "mid-wait" to
// interrupt; this instead gives the slave the same window the predecessor
// used on real hardware, checking its busy/VBlank condition between
// exchanges rather than during one.
func (l *PeriphLink) ExchangeBreakable(word uint32, mayBreak func() bool) (uint32, bool, error) {
	if mayBreak != nil && mayBreak() {
		return busyWord, true, nil
	}
	got, err := l.Exchange32(word)
	return got, false, err
}

// Close releases the underlying SPI port.
func (l *PeriphLink) Close() error {
	return l.port.Close()
}

// noopLink stands in for missing hardware: every exchange echoes zero.
type noopLink struct{}

func (*noopLink) Exchange32(uint32) (uint32, error) { return 0, nil }
func (*noopLink) SetSpeed(SpeedHint)                {}

func (*noopLink) ExchangeBreakable(word uint32, mayBreak func() bool) (uint32, bool, error) {
	if mayBreak != nil && mayBreak() {
		return busyWord, true, nil
	}
	return 0, false, nil
}
