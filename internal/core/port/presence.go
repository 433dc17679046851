package port

import (
	"context"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// PresenceDirectory records which relay node currently holds a user.
type PresenceDirectory interface {
	SetOnline(ctx context.Context, userID domain.UserID, node domain.NodeID, ttl time.Duration) error
	SetOffline(ctx context.Context, userID domain.UserID, node domain.NodeID) error
	Lookup(ctx context.Context, userID domain.UserID) (domain.NodeID, bool, error)
}

// ClusterBus carries envelopes between relay nodes.
type ClusterBus interface {
	Publish(ctx context.Context, node domain.NodeID, env domain.Envelope) error
	// Subscribe delivers envelopes addressed to node until ctx is done.
	Subscribe(ctx context.Context, node domain.NodeID, deliver func(domain.Envelope)) error
}
