package peer

import "github.com/pion/webrtc/v4"

// MediaSource supplies the local tracks a session offers to the peer. The
// negotiator only wires tracks in; capture, encoding, and teardown of the
// underlying device belong to the implementation.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal

	// Stop releases the underlying capture. The owner of the source calls it
	// once, after the last session using its tracks is gone.
	Stop()
}
