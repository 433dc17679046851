package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 32
)

var ErrClosed = errors.New("relay connection closed")

// Client is the participant side of the relay: it registers a user id on
// connect and then exchanges envelopes. It implements port.Signaler.
type Client struct {
	conn     *websocket.Conn
	userID   domain.UserID
	incoming chan domain.Envelope
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

// Dial connects to the relay at serverURL and registers userID.
func Dial(ctx context.Context, serverURL string, userID domain.UserID) (*Client, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrMissingAddress)
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		userID:   userID,
		incoming: make(chan domain.Envelope, queueSize),
		outgoing: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}

	reg, err := domain.RegisterFrame(userID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.outgoing <- reg

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *Client) UserID() domain.UserID {
	return c.userID
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Relay connection lost")
			}
			return
		}

		f, err := domain.ParseFrame(data)
		if err != nil || f.IsRegister() {
			log.Warn().Err(err).Msg("Dropping malformed frame from relay")
			continue
		}

		select {
		case c.incoming <- *f.Envelope:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Msg("Failed to write to relay")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues env for the relay. The relay fills in the sender.
func (c *Client) Send(ctx context.Context, env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound yields envelopes from the relay. It is closed when the
// connection ends.
func (c *Client) Inbound() <-chan domain.Envelope {
	return c.incoming
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}
