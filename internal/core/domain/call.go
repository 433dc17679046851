package domain

// SessionState is one node of the per-participant call lifecycle.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateDialing      SessionState = "dialing"       // caller: media, offer, waiting for the callee
	StateRingingLocal SessionState = "ringing_local" // callee: offer stored, prompting the user
	StateNegotiating  SessionState = "negotiating"
	StateConnected    SessionState = "connected"
	StateEnding       SessionState = "ending"
	StateEnded        SessionState = "ended"
	StateDeclined     SessionState = "declined"
	StateFailed       SessionState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	switch s {
	case StateEnded, StateDeclined, StateFailed:
		return true
	}
	return false
}

func (s SessionState) String() string {
	return string(s)
}

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

type MediaKind string

const (
	MediaAudioVideo MediaKind = "audio_video"
	MediaAudioOnly  MediaKind = "audio_only"
)

func (k MediaKind) HasVideo() bool {
	return k == MediaAudioVideo
}

// MediaKindFor maps the isVideoCall flag carried by an offer.
func MediaKindFor(isVideoCall bool) MediaKind {
	if isVideoCall {
		return MediaAudioVideo
	}
	return MediaAudioOnly
}

// Direction tells ringing observers and indicators which side is ringing.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// EndReason explains why a session reached a terminal state.
type EndReason string

const (
	ReasonLocalHangup       EndReason = "local_hangup"
	ReasonRemoteHangup      EndReason = "remote_hangup"
	ReasonDeclinedLocal     EndReason = "declined_local"
	ReasonDeclinedRemote    EndReason = "declined_remote"
	ReasonDeviceUnavailable EndReason = "device_unavailable"
	ReasonNegotiation       EndReason = "negotiation_failure"
	ReasonConnectivityLoss  EndReason = "connectivity_loss"
	ReasonRingTimeout       EndReason = "ring_timeout"
	ReasonSuperseded        EndReason = "superseded"
)
