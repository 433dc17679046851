package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const subjectPrefix = "yacall.node."

type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Bus implements port.ClusterBus over core NATS: each relay node listens on
// its own subject and peers publish msgpack frames to it.
type Bus struct {
	nc *nats.Conn
}

func Connect(cfg Config) (*Bus, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","),
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{nc: nc}, nil
}

func subject(node domain.NodeID) string {
	return subjectPrefix + node.String()
}

func (b *Bus) Publish(ctx context.Context, node domain.NodeID, env domain.Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject(node), data)
}

// Subscribe delivers every valid frame addressed to node. The subscription
// is drained once ctx is done. NATS runs the handler on one goroutine per
// subscription, so envelopes keep their publish order.
func (b *Bus) Subscribe(ctx context.Context, node domain.NodeID, deliver func(domain.Envelope)) error {
	sub, err := b.nc.Subscribe(subject(node), func(msg *nats.Msg) {
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed node frame")
			return
		}
		deliver(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject(node), err)
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain node subscription")
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	return b.nc.Drain()
}
