package master

import (
	"sync/atomic"
	"time"
)

// Metrics accumulates running counters for one Master's session, read
// concurrently by a status command or log ticker while the frame loop
// keeps writing to them from its own goroutine. Grounded on
// stream_metrics.go's atomic-counter-plus-Snapshot pattern, retargeted at
// frames/packets/resyncs instead of capture/encode timings.
type Metrics struct {
	framesSent  atomic.Uint64
	packetsSent atomic.Uint64
	resyncs     atomic.Uint64
	recoveries  atomic.Uint64
	bytesSent   atomic.Uint64

	lastEncodeNanos atomic.Int64
	startTime       time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) recordFrame(packets int, bytes int, encodeDur time.Duration) {
	m.framesSent.Add(1)
	m.packetsSent.Add(uint64(packets))
	m.bytesSent.Add(uint64(bytes))
	m.lastEncodeNanos.Store(encodeDur.Nanoseconds())
}

func (m *Metrics) recordResync() {
	m.resyncs.Add(1)
}

func (m *Metrics) recordRecovery() {
	m.recoveries.Add(1)
}

// Snapshot is a point-in-time copy of Metrics for logging or a status
// endpoint.
type Snapshot struct {
	FramesSent  uint64
	PacketsSent uint64
	Resyncs     uint64
	Recoveries  uint64
	BytesSent   uint64
	EncodeMs    float64
	Uptime      time.Duration
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:  m.framesSent.Load(),
		PacketsSent: m.packetsSent.Load(),
		Resyncs:     m.resyncs.Load(),
		Recoveries:  m.recoveries.Load(),
		BytesSent:   m.bytesSent.Load(),
		EncodeMs:    float64(m.lastEncodeNanos.Load()) / 1e6,
		Uptime:      time.Since(m.startTime),
	}
}
