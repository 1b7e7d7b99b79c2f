package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanternops/spilink/internal/config"
	"github.com/lanternops/spilink/internal/frame"
	"github.com/lanternops/spilink/internal/logging"
	"github.com/lanternops/spilink/internal/master"
	"github.com/lanternops/spilink/internal/palette"
	"github.com/lanternops/spilink/internal/slave"
	"github.com/lanternops/spilink/internal/spi"
	"github.com/lanternops/spilink/internal/workerpool"
	"github.com/lanternops/spilink/pkg/api"
)

var (
	version = "0.1.0"
	cfgFile string
	demo    bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "spilink-host",
	Short: "spilink host (master) process",
	Long:  "spilink-host drives the master side of the frame protocol: captures frames, diffs and compresses them, and exchanges them with the handheld over SPI.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the master frame loop",
	Run: func(cmd *cobra.Command, args []string) {
		runHost()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spilink-host v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		printStatus()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.WriteDefault(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/spilink/spilink.yaml)")
	runCmd.Flags().BoolVar(&demo, "demo", false, "run an in-memory slave alongside the master instead of opening a real SPI device")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, errs, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")
	for _, e := range errs {
		log.Warn("config validation", "error", e)
	}
	return cfg
}

func printStatus() {
	cfg := loadConfig()
	fmt.Printf("SPI device:  %s\n", cfg.SPIDevicePath)
	fmt.Printf("Render mode: %s\n", cfg.RenderMode)
	fmt.Printf("Control map: %s\n", cfg.ControlMap)
	fmt.Printf("Compression: %d\n", cfg.CompressionAggressiveness)
	fmt.Printf("Overclock:   %v\n", cfg.CPUOverclock)
}

// runHost wires config, logging, the palette LUT, the SPI transport (real
// or, in --demo mode, an in-memory loopback driving a built-in slave), and
// the master frame loop, then runs frames until a shutdown signal arrives.
// Mirrors the teacher's runAgent: load config, init logging, start the
// blocking work, wait on SIGINT/SIGTERM, then stop the background tickers
// and stop the pool accepting jobs (it is not drained).
func runHost() {
	cfg := loadConfig()

	lut, err := loadPalette(cfg.PaletteCache)
	if err != nil {
		log.Error("failed to load palette", "error", err)
		os.Exit(1)
	}

	opts, err := master.OptionsFromConfig(cfg)
	if err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	link, frames, gamepad, stopDemo := openTransport(cfg)
	defer stopDemo()

	blank := frame.New(frame.StandardRenderMode.Width, frame.StandardRenderMode.Height)
	m := master.New(link, lut, frames, nil, gamepad, opts, blank)

	log.Info("starting master", "version", version, "spiDevice", cfg.SPIDevicePath, "demo", demo)

	if err := m.Reset(); err != nil {
		log.Error("session reset failed", "error", err)
		os.Exit(1)
	}

	pool := workerpool.New(2, 8)
	stopBackground := make(chan struct{})
	go backgroundTicker(pool, time.Duration(cfg.MetricsIntervalSeconds)*time.Second, stopBackground,
		workerpool.JobMetrics, metricsJob(pool, m))
	go backgroundTicker(pool, paletteFlushInterval, stopBackground,
		workerpool.JobPaletteFlush, paletteFlushJob(cfg.PaletteCache, lut))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stopBackground:
				return
			default:
			}
			if err := m.RunFrame(); err != nil {
				log.Error("frame loop error, resetting session", "error", err)
				if err := m.Reset(); err != nil {
					log.Error("session reset failed, giving up", "error", err)
					return
				}
			}
		}
	}()

	select {
	case <-sigChan:
		log.Info("shutting down master")
	case <-done:
		log.Warn("frame loop exited on its own")
	}

	close(stopBackground)
	pool.StopAccepting()
	log.Info("master stopped")
}

// paletteFlushInterval is how often the host re-writes the palette cache.
const paletteFlushInterval = 5 * time.Minute

// backgroundTicker submits a job of the given kind to pool every interval,
// keeping the blocking frame loop free of anything but Exchange32 calls.
func backgroundTicker(pool *workerpool.Pool, interval time.Duration, stop <-chan struct{}, kind workerpool.JobKind, run func()) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			pool.Submit(workerpool.Job{Kind: kind, Run: run})
		case <-stop:
			return
		}
	}
}

// metricsJob logs one protocol metrics snapshot, folding in the pool's
// own per-kind job counters so a stuck palette flush shows up in the same
// line as frame throughput.
func metricsJob(pool *workerpool.Pool, m *master.Master) func() {
	return func() {
		snap := m.Metrics().Snapshot()
		log.Info("metrics",
			"framesSent", snap.FramesSent,
			"packetsSent", snap.PacketsSent,
			"resyncs", snap.Resyncs,
			"recoveries", snap.Recoveries,
			"bytesSent", snap.BytesSent,
			"encodeMs", snap.EncodeMs,
			"uptime", snap.Uptime,
			"pool", pool.Stats(),
		)
	}
}

// paletteFlushJob re-writes the palette cache from lut's live table, so a
// palette rebuilt after a corrupt-cache fallback (see loadPalette) is
// persisted without requiring a clean shutdown.
func paletteFlushJob(cachePath string, lut *palette.LUT) func() {
	return func() {
		if err := palette.SaveCache(cachePath, lut.Palette()); err != nil {
			log.Warn("palette flush failed", "error", err)
		}
	}
}

func loadPalette(cachePath string) (*palette.LUT, error) {
	lut, err := palette.LoadCache(cachePath)
	if err == nil {
		return lut, nil
	}
	log.Warn("palette cache unavailable, building and saving default palette", "path", cachePath, "error", err)
	def := palette.DefaultPalette()
	if err := palette.SaveCache(cachePath, def); err != nil {
		log.Warn("failed to save palette cache", "error", err)
	}
	return palette.Build(def), nil
}

// openTransport returns the spi.Link the master should drive, plus a frame
// source and gamepad sink. In --demo mode it spins up a full in-memory
// slave loop fed by synthetic frames so the master has a live peer with no
// hardware attached; the returned stop func tears that goroutine down.
func openTransport(cfg *config.Config) (spi.Link, api.FrameSource, api.GamepadSink, func()) {
	if !demo {
		link, err := spi.NewPeriphLink(cfg.SPIDevicePath, 1_000_000, 8_000_000)
		if err != nil {
			log.Error("failed to open SPI device", "error", err)
			os.Exit(1)
		}
		return link, demoFrameSource(), &api.DemoGamepadSink{}, func() {}
	}

	masterLink, slaveLink := spi.NewMemoryLinkPair()
	lut := palette.Default()
	player := api.NewDemoPlayerDriver(true)
	buttons := &api.DemoButtonSource{}

	stop := make(chan struct{})
	go runDemoSlave(slaveLink, lut, player, buttons, stop)

	return masterLink, demoFrameSource(), &api.DemoGamepadSink{}, func() { close(stop) }
}

// runDemoSlave runs a slave loop against slaveLink until stop is closed,
// giving --demo mode a live peer without any real handheld attached.
func runDemoSlave(slaveLink spi.BreakableLink, lut *palette.LUT, player api.PlayerDriver, buttons api.ButtonSource, stop <-chan struct{}) {
	vblankPhase := 0
	vblank := func() bool {
		vblankPhase++
		return vblankPhase%2 == 0
	}

	s := slave.New(slaveLink, lut, player, buttons, vblank)
	if err := s.Reset(); err != nil {
		log.Error("demo slave reset failed", "error", err)
		return
	}

	for {
		select {
		case <-stop:
			return
		default:
		}
		if _, err := s.RunFrame(); err != nil {
			log.Error("demo slave frame error, resetting", "error", err)
			if err := s.Reset(); err != nil {
				log.Error("demo slave reset failed, giving up", "error", err)
				return
			}
		}
	}
}

func demoFrameSource() api.FrameSource {
	blank := frame.New(frame.StandardRenderMode.Width, frame.StandardRenderMode.Height)
	sweep := blank.Clone()
	for i := range sweep.Pixels {
		sweep.Pixels[i] = uint8(i % 256)
	}
	return api.NewDemoFrameSource([]*frame.Frame{blank, sweep})
}
