package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lanternops/spilink/internal/config"
	"github.com/lanternops/spilink/internal/logging"
	"github.com/lanternops/spilink/internal/palette"
	"github.com/lanternops/spilink/internal/slave"
	"github.com/lanternops/spilink/internal/spi"
	"github.com/lanternops/spilink/pkg/api"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "spilink-device",
	Short: "spilink device (slave) process",
	Long:  "spilink-device drives the handheld side of the frame protocol: receives diffs over SPI, applies them, and renders the result. With no real handheld attached it runs as an in-memory/simulated slave for local development and demos.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the slave frame loop",
	Run: func(cmd *cobra.Command, args []string) {
		runDevice()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spilink-device v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		fmt.Printf("SPI device: %s\n", cfg.SPIDevicePath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/spilink/spilink.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
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

// runDevice opens the configured SPI device (periph.io falls back to a
// no-op link with a warning if the device node is missing, which is what
// makes this binary usable on a development machine with nothing wired
// up) and runs the slave loop with demo button/audio boundary
// implementations until a shutdown signal arrives.
func runDevice() {
	cfg := loadConfig()

	lut, err := palette.LoadCache(cfg.PaletteCache)
	if err != nil {
		log.Warn("palette cache unavailable, using built-in default", "error", err)
		lut = palette.Default()
	}

	link, err := spi.NewPeriphLink(cfg.SPIDevicePath, 1_000_000, 8_000_000)
	if err != nil {
		log.Error("failed to open SPI device", "error", err)
		os.Exit(1)
	}

	breakable, ok := link.(spi.BreakableLink)
	if !ok {
		log.Error("configured SPI device does not support breakable exchange")
		os.Exit(1)
	}

	player := api.NewDemoPlayerDriver(true)
	buttons := &api.DemoButtonSource{}
	vblankPhase := 0
	vblank := func() bool {
		vblankPhase++
		return vblankPhase%2 == 0
	}

	s := slave.New(breakable, lut, player, buttons, vblank)

	log.Info("starting slave", "version", version, "spiDevice", cfg.SPIDevicePath)

	if err := s.Reset(); err != nil {
		log.Error("session reset failed", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := s.RunFrame(); err != nil {
				log.Error("frame loop error, resetting session", "error", err)
				if err := s.Reset(); err != nil {
					log.Error("session reset failed, giving up", "error", err)
					return
				}
			}
		}
	}()

	<-sigChan
	log.Info("shutting down slave")
	close(stop)
	<-done
	log.Info("slave stopped")
}
