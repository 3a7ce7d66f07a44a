// Package observer implements the RtpObserver family of spec.md §4.11:
// AudioLevelObserver and ActiveSpeakerObserver, both driven by a periodic Tick
// from the owning worker loop rather than their own goroutine, matching the
// tick-driven style pkg/transport's WebRtcTransport.Tick already established
// for this single-threaded event-loop worker (spec.md §5).
package observer

import "sync"

// base holds the id/paused state every RtpObserver variant shares (grounded on
// RTC::RtpObserver's own id/paused/listener fields).
type base struct {
	mu     sync.Mutex
	id     string
	paused bool
}

// setPaused implements the idempotent pause semantics RTC::RtpObserver::Pause/
// Resume use: a no-op returning false if already in that state, otherwise it
// switches state and returns true so the variant can react.
func (b *base) setPaused(want bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused == want {
		return false
	}
	b.paused = want
	return true
}

func (b *base) isPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// ID returns the controller-assigned id this observer was created with, for a
// Router to report back to its own listener without tracking a separate
// pointer-to-id table.
func (b *base) ID() string { return b.id }
