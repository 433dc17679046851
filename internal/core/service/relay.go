package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

const DefaultPresenceTTL = 60 * time.Second

// RelayStats counts what happened to envelopes handed to the relay.
type RelayStats struct {
	Forwarded uint64 `json:"forwarded"`
	Remote    uint64 `json:"remote"`
	Missed    uint64 `json:"missed"`
	Dropped   uint64 `json:"dropped"`
}

// RelayService is the stateless-per-message router in front of the
// registry. In cluster mode a local miss falls back to the presence
// directory and the inter-node bus.
type RelayService struct {
	registry port.Registry

	node        domain.NodeID
	presence    port.PresenceDirectory
	bus         port.ClusterBus
	presenceTTL time.Duration

	forwarded atomic.Uint64
	remote    atomic.Uint64
	missed    atomic.Uint64
	dropped   atomic.Uint64
}

type RelayOption func(*RelayService)

// WithCluster enables cross-node forwarding for this relay node.
func WithCluster(node domain.NodeID, presence port.PresenceDirectory, bus port.ClusterBus, ttl time.Duration) RelayOption {
	return func(s *RelayService) {
		s.node = node
		s.presence = presence
		s.bus = bus
		if ttl > 0 {
			s.presenceTTL = ttl
		}
	}
}

func NewRelayService(registry port.Registry, opts ...RelayOption) *RelayService {
	s := &RelayService{
		registry:    registry,
		presenceTTL: DefaultPresenceTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RelayService) clustered() bool {
	return s.presence != nil && s.bus != nil
}

// Register binds userID to ch. A channel registering under a new id first
// loses its previous binding.
func (s *RelayService) Register(ctx context.Context, userID domain.UserID, ch port.Channel) {
	if prev, ok := s.registry.Lookup(ctx, ch); ok && prev != userID {
		s.Unregister(ctx, ch)
	}
	s.registry.Register(ctx, userID, ch)

	if s.clustered() {
		if err := s.presence.SetOnline(ctx, userID, s.node, s.presenceTTL); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to publish presence")
		}
	}
}

// Forward relays env on behalf of the channel it arrived on. The sender id
// is taken from the registry, never from the envelope. Misses are counted
// and otherwise silent.
func (s *RelayService) Forward(ctx context.Context, from port.Channel, env domain.Envelope) error {
	sender, ok := s.registry.Lookup(ctx, from)
	if !ok {
		s.dropped.Add(1)
		log.Debug().Str("client_id", from.ID()).Str("kind", env.Kind.String()).Msg("Envelope from unregistered channel dropped")
		return nil
	}
	env.From = sender
	if err := env.Validate(); err != nil {
		s.dropped.Add(1)
		return err
	}
	s.deliver(ctx, env)
	return nil
}

func (s *RelayService) deliver(ctx context.Context, env domain.Envelope) {
	if s.registry.Forward(ctx, env) {
		s.forwarded.Add(1)
		return
	}

	if s.clustered() {
		node, online, err := s.presence.Lookup(ctx, env.To)
		switch {
		case err != nil:
			log.Error().Err(err).Str("to", env.To.String()).Msg("Presence lookup failed")
		case online && node != s.node:
			if err := s.bus.Publish(ctx, node, env); err != nil {
				log.Error().Err(err).Str("to", env.To.String()).Str("node_id", node.String()).Msg("Failed to publish envelope to node")
				break
			}
			s.remote.Add(1)
			return
		}
	}

	s.missed.Add(1)
	log.Debug().Str("from", env.From.String()).Str("to", env.To.String()).Str("kind", env.Kind.String()).Msg("Delivery miss")
}

func (s *RelayService) Unregister(ctx context.Context, ch port.Channel) {
	removed := s.registry.Unregister(ctx, ch)
	if !s.clustered() {
		return
	}
	for _, userID := range removed {
		if err := s.presence.SetOffline(ctx, userID, s.node); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to clear presence")
		}
	}
}

// Run serves the cluster side of the relay until ctx is done: inbound
// envelopes from other nodes and periodic presence refresh. It returns
// immediately in single-node mode.
func (s *RelayService) Run(ctx context.Context) error {
	if !s.clustered() {
		return nil
	}

	err := s.bus.Subscribe(ctx, s.node, func(env domain.Envelope) {
		if s.registry.Forward(ctx, env) {
			s.forwarded.Add(1)
			return
		}
		s.missed.Add(1)
		log.Debug().Str("to", env.To.String()).Str("kind", env.Kind.String()).Msg("Delivery miss for envelope from peer node")
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.presenceTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refreshPresence(ctx)
		}
	}
}

func (s *RelayService) refreshPresence(ctx context.Context) {
	for _, userID := range s.registry.Users(ctx) {
		if err := s.presence.SetOnline(ctx, userID, s.node, s.presenceTTL); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to refresh presence")
		}
	}
}

// Users returns how many users are bound on this node.
func (s *RelayService) Users(ctx context.Context) int {
	return len(s.registry.Users(ctx))
}

func (s *RelayService) Stats() RelayStats {
	return RelayStats{
		Forwarded: s.forwarded.Load(),
		Remote:    s.remote.Load(),
		Missed:    s.missed.Load(),
		Dropped:   s.dropped.Load(),
	}
}
