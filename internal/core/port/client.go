package port

import "github.com/Wyydra/yacall/internal/core/domain"

// Channel is one live connection the relay can push envelopes to.
type Channel interface {
	ID() string
	Send(env domain.Envelope) error
	Close() error
}
