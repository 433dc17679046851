package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Facing is the camera facing mode.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

func (f Facing) Opposite() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// CaptureRequest describes what a device acquisition must open.
type CaptureRequest struct {
	Audio  bool
	Video  bool
	Facing Facing
}

// ConnectivityState is what the media layer reports about the peer link.
type ConnectivityState string

const (
	ConnectivityNew          ConnectivityState = "new"
	ConnectivityConnecting   ConnectivityState = "connecting"
	ConnectivityConnected    ConnectivityState = "connected"
	ConnectivityDisconnected ConnectivityState = "disconnected"
	ConnectivityFailed       ConnectivityState = "failed"
	ConnectivityClosed       ConnectivityState = "closed"
)
