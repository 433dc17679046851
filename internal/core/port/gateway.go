package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Registry binds user ids to their current channel and forwards envelopes
// between them. It never interprets payloads.
type Registry interface {
	// Register (re-)binds userID to ch. The previous binding, if any, is
	// replaced.
	Register(ctx context.Context, userID domain.UserID, ch Channel)
	// Forward delivers env to the channel bound to env.To and reports
	// whether a local binding existed.
	Forward(ctx context.Context, env domain.Envelope) bool
	// Unregister drops every binding pointing at ch and returns the user
	// ids that lost their binding.
	Unregister(ctx context.Context, ch Channel) []domain.UserID
	// Lookup returns the user currently bound to ch.
	Lookup(ctx context.Context, ch Channel) (domain.UserID, bool)
	Users(ctx context.Context) []domain.UserID
}

// Signaler is the client-side end of the message bus.
type Signaler interface {
	Send(ctx context.Context, env domain.Envelope) error
}
