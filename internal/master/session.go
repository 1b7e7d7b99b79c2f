package master

import (
	"fmt"

	"github.com/lanternops/spilink/internal/config"
)

// controlMaps assigns the reset word's 4-bit control-map field a small
// fixed registry of named button layouts. spec.md names the field but
// leaves its vocabulary open; "default" is the only layout this module's
// slave side treats specially (none, since remapping buttons is a
// GamepadSink concern on the host, not a protocol concern) — the other
// names are reserved ids passed straight through to the slave for its own
// interpretation.
var controlMaps = map[string]uint32{
	"default":  0,
	"arcade":   1,
	"southpaw": 2,
}

// renderModeIDs maps the config's render-mode name to the reset word's
// 4-bit render-mode field. Benchmark ids occupy 8..15 per
// frame.RenderMode.IsBenchmark; "benchmark" here selects the lowest one.
var renderModeIDs = map[string]uint32{
	"standard":  0,
	"benchmark": 8,
}

// OptionsFromConfig translates the host's on-disk/CLI configuration into
// the Options a Master encodes into the post-reset session word.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	renderID, ok := renderModeIDs[cfg.RenderMode]
	if !ok {
		return Options{}, fmt.Errorf("master: unknown render_mode %q", cfg.RenderMode)
	}

	controlID, ok := controlMaps[cfg.ControlMap]
	if !ok {
		return Options{}, fmt.Errorf("master: unknown control_map %q", cfg.ControlMap)
	}

	return Options{
		RenderMode:   renderID,
		ControlMap:   controlID,
		Compression:  uint32(cfg.CompressionAggressiveness),
		CPUOverclock: cfg.CPUOverclock,
	}, nil
}
