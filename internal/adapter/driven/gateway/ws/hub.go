package ws

import (
	"context"
	"sync/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

type registration struct {
	userID domain.UserID
	ch     port.Channel
	done   chan struct{}
}

type forwardReq struct {
	env  domain.Envelope
	done chan bool
}

type unregisterReq struct {
	ch   port.Channel
	done chan []domain.UserID
}

// Hub implements port.Registry. A single goroutine (Run) owns the bindings
// map, so envelopes to one recipient leave in the order they were forwarded.
type Hub struct {
	bindings   map[domain.UserID]port.Channel
	register   chan registration
	unregister chan unregisterReq
	forward    chan forwardReq
	query      chan func()
	quit       chan struct{}
	stopped    atomic.Bool
}

func NewHub() *Hub {
	return &Hub{
		bindings:   make(map[domain.UserID]port.Channel),
		register:   make(chan registration),
		unregister: make(chan unregisterReq),
		forward:    make(chan forwardReq),
		query:      make(chan func()),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for userID, ch := range h.bindings {
				ch.Close()
				delete(h.bindings, userID)
			}
			return

		case r := <-h.register:
			if prev, ok := h.bindings[r.userID]; ok && prev != r.ch {
				log.Warn().
					Str("user_id", r.userID.String()).
					Str("prev_client_id", prev.ID()).
					Str("client_id", r.ch.ID()).
					Msg("Registration replaced, previous channel orphaned")
			}
			h.bindings[r.userID] = r.ch
			log.Info().Str("user_id", r.userID.String()).Str("client_id", r.ch.ID()).Int("count", len(h.bindings)).Msg("User registered")
			close(r.done)

		case r := <-h.unregister:
			var removed []domain.UserID
			for userID, ch := range h.bindings {
				if ch == r.ch {
					delete(h.bindings, userID)
					removed = append(removed, userID)
					log.Info().Str("user_id", userID.String()).Str("client_id", ch.ID()).Msg("User unregistered")
				}
			}
			r.done <- removed

		case f := <-h.forward:
			ch, ok := h.bindings[f.env.To]
			if !ok {
				f.done <- false
				continue
			}
			if err := ch.Send(f.env); err != nil {
				log.Error().Err(err).Str("client_id", ch.ID()).Str("kind", f.env.Kind.String()).Msg("Error sending envelope")
				f.done <- false
				continue
			}
			f.done <- true

		case fn := <-h.query:
			fn()
		}
	}
}

func (h *Hub) Register(ctx context.Context, userID domain.UserID, ch port.Channel) {
	r := registration{userID: userID, ch: ch, done: make(chan struct{})}
	select {
	case h.register <- r:
		<-r.done
	case <-ctx.Done():
	case <-h.quit:
	}
}

func (h *Hub) Forward(ctx context.Context, env domain.Envelope) bool {
	if h.stopped.Load() {
		return false
	}
	f := forwardReq{env: env, done: make(chan bool, 1)}
	select {
	case h.forward <- f:
		return <-f.done
	case <-ctx.Done():
		return false
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(ctx context.Context, ch port.Channel) []domain.UserID {
	r := unregisterReq{ch: ch, done: make(chan []domain.UserID, 1)}
	select {
	case h.unregister <- r:
		return <-r.done
	case <-ctx.Done():
		return nil
	case <-h.quit:
		return nil
	}
}

func (h *Hub) Lookup(ctx context.Context, ch port.Channel) (domain.UserID, bool) {
	var (
		id    domain.UserID
		found bool
	)
	h.do(ctx, func() {
		for userID, bound := range h.bindings {
			if bound == ch {
				id, found = userID, true
				return
			}
		}
	})
	return id, found
}

func (h *Hub) Users(ctx context.Context) []domain.UserID {
	var users []domain.UserID
	h.do(ctx, func() {
		users = make([]domain.UserID, 0, len(h.bindings))
		for userID := range h.bindings {
			users = append(users, userID)
		}
	})
	return users
}

func (h *Hub) do(ctx context.Context, fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case h.query <- wrapped:
		<-done
	case <-ctx.Done():
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.quit)
	}
}
