package slave

// vblankTracker is a 1-bit edge detector mirroring the predecessor's
// isNewVBlank(): Poll is fed the device's raw VBlank line state each time
// it's sampled, and reports true exactly once per low-to-high
// transition.
type vblankTracker struct {
	last bool
}

// Poll records the current raw VBlank state and reports whether this call
// observed a new rising edge since the last one.
func (t *vblankTracker) Poll(high bool) bool {
	isNew := high && !t.last
	t.last = high
	return isNew
}
