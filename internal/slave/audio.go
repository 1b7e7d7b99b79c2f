package slave

import "github.com/lanternops/spilink/pkg/api"

// driveAudio mirrors the predecessor's drive_audio, called once per new
// VBlank edge: if the player wants more data and a chunk has already been
// buffered from this frame's RxAudio phase, feed it before pumping the
// player one step. player may be nil for a headless slave (e.g. a
// renderer with no audio output).
func driveAudio(player api.PlayerDriver, buffered []byte) {
	if player == nil {
		return
	}
	if player.NeedsData() && buffered != nil {
		player.Feed(buffered)
	}
	player.Step()
}
