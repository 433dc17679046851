package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Phone is the client-side call manager for one registered user. It holds at
// most one live session and routes inbound envelopes to it.
type Phone struct {
	local       domain.UserID
	deps        SessionDeps
	ringTimeout time.Duration

	mu       sync.Mutex
	current  *Session
	incoming chan *Session
}

type PhoneOption func(*Phone)

// WithRingTimeout gives every session this phone creates a ring timeout.
func WithRingTimeout(d time.Duration) PhoneOption {
	return func(p *Phone) {
		p.ringTimeout = d
	}
}

func NewPhone(local domain.UserID, deps SessionDeps, opts ...PhoneOption) *Phone {
	p := &Phone{
		local:    local,
		deps:     deps,
		incoming: make(chan *Session, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Incoming yields callee sessions that started ringing. The caller decides
// whether to Accept or Decline them.
func (p *Phone) Incoming() <-chan *Session {
	return p.incoming
}

// Current returns the live session, or nil when the phone is idle.
func (p *Phone) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveLocked()
}

func (p *Phone) liveLocked() *Session {
	if p.current == nil {
		return nil
	}
	select {
	case <-p.current.Done():
		p.current = nil
		return nil
	default:
		return p.current
	}
}

// Dial starts an outgoing call to remote. ctx bounds the whole call.
func (p *Phone) Dial(ctx context.Context, remote domain.UserID, kind domain.MediaKind) (*Session, error) {
	p.mu.Lock()
	if p.liveLocked() != nil {
		p.mu.Unlock()
		return nil, domain.ErrBusy
	}
	s := p.newSession(remote, domain.RoleCaller, kind)
	p.current = s
	p.mu.Unlock()

	s.Start(ctx)
	if err := s.Dial(); err != nil {
		return nil, err
	}
	return s, nil
}

// HandleEnvelope routes one inbound envelope. An offer arriving while another
// call is live is declined on the user's behalf. A fresh offer from the user
// whose call is still ringing here replaces that call: the remote lost its
// side and dialed again.
func (p *Phone) HandleEnvelope(ctx context.Context, env domain.Envelope) {
	p.mu.Lock()
	live := p.liveLocked()

	if live != nil && env.From == live.Remote() && env.Kind != domain.KindOffer {
		p.mu.Unlock()
		if err := live.HandleEnvelope(env); err != nil {
			log.Debug().Err(err).Str("kind", env.Kind.String()).Msg("Envelope arrived after session closed")
		}
		return
	}

	if env.Kind != domain.KindOffer {
		p.mu.Unlock()
		log.Debug().Str("from", env.From.String()).Str("kind", env.Kind.String()).Msg("Ignoring envelope with no matching session")
		return
	}

	if live != nil && env.From == live.Remote() {
		p.mu.Unlock()
		if err := live.Supersede(); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			p.declineBusy(ctx, env.From)
			return
		}
		log.Info().Str("from", env.From.String()).Msg("Caller dialed again, replacing ringing call")
		p.mu.Lock()
		if p.current == live {
			p.current = nil
		}
		live = p.liveLocked()
	}

	if live != nil {
		p.mu.Unlock()
		p.declineBusy(ctx, env.From)
		return
	}

	s := p.newSession(env.From, domain.RoleCallee, domain.MediaKindFor(env.IsVideoCall))
	p.current = s
	p.mu.Unlock()

	s.Start(ctx)
	if err := s.HandleEnvelope(env); err != nil {
		return
	}
	select {
	case p.incoming <- s:
	default:
		log.Warn().Str("from", env.From.String()).Msg("Incoming call not picked up by anyone")
	}
}

func (p *Phone) declineBusy(ctx context.Context, from domain.UserID) {
	log.Info().Str("from", from.String()).Msg("Busy, declining incoming call")
	if err := p.deps.Signaler.Send(ctx, domain.NewDeclined(p.local, from)); err != nil {
		log.Warn().Err(err).Msg("Failed to send busy decline")
	}
}

// Run routes inbound envelopes until ctx is done or inbound is closed. The
// live session is hung up on return.
func (p *Phone) Run(ctx context.Context, inbound <-chan domain.Envelope) error {
	defer func() {
		if s := p.Current(); s != nil {
			s.End()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbound:
			if !ok {
				return nil
			}
			p.HandleEnvelope(ctx, env)
		}
	}
}

func (p *Phone) newSession(remote domain.UserID, role domain.Role, kind domain.MediaKind) *Session {
	return NewSession(SessionConfig{
		Local:       p.local,
		Remote:      remote,
		Role:        role,
		MediaKind:   kind,
		RingTimeout: p.ringTimeout,
	}, p.deps)
}
