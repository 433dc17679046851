package port

import (
	"context"
	"encoding/json"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Track is one captured local track or one received remote track.
type Track interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the underlying device. Calling it twice is a no-op.
	Stop()
	Stopped() bool
}

// Devices opens capture devices.
type Devices interface {
	Open(ctx context.Context, req domain.CaptureRequest) ([]Track, error)
}

// Sender is the outgoing slot a local track was attached to.
type Sender interface {
	ReplaceTrack(t Track) error
}

// PeerConnection is the negotiation handle. Descriptions and candidates are
// opaque JSON blobs.
type PeerConnection interface {
	AddTrack(t Track) (Sender, error)
	// CreateOffer creates and applies the local offer.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// CreateAnswer creates and applies the local answer. The remote offer
	// must already be applied.
	CreateAnswer(ctx context.Context) (json.RawMessage, error)
	SetRemoteDescription(desc json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	OnICECandidate(fn func(candidate json.RawMessage))
	OnConnectivityChange(fn func(state domain.ConnectivityState))
	OnTrack(fn func(t Track))
	Close() error
}

type PeerFactory interface {
	NewPeer(ctx context.Context) (PeerConnection, error)
}
