package port

import (
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// CallObserver receives the user-facing side effects of a session. Every
// callback fires once per corresponding transition, from the session loop.
type CallObserver interface {
	OnRinging(dir domain.Direction)
	OnConnected()
	OnEnded(reason domain.EndReason)
	OnDurationTick(seconds int)
}

// Indicator plays ringing tones.
type Indicator interface {
	Start(dir domain.Direction)
	Stop(dir domain.Direction)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}
