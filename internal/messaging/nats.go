// Package messaging provides a NATS client wrapper for the platform's event
// backbone. The chat hub and the forum publish best-effort events for
// downstream consumers (analytics, notification workers), and the hub
// subscribes to operator announcements relayed into the chat room.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects published and consumed by the platform.
const (
	SubjectChatMessage    = "chat.message"
	SubjectPresenceJoined = "presence.joined"
	SubjectPresenceLeft   = "presence.left"
	SubjectForumPost      = "forum.post.created"
	SubjectAnnounce       = "platform.announce"
)

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "letsgo",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject. A nil client is a no-op so
// callers can run without the event backbone configured.
func (c *Client) Publish(subject string, data []byte) error {
	if c == nil {
		return nil
	}
	return c.conn.Publish(subject, data)
}

// PublishChatMessage publishes an enriched chat message event.
func (c *Client) PublishChatMessage(data []byte) error {
	return c.Publish(SubjectChatMessage, data)
}

// PublishPresenceJoined publishes a presence join event.
func (c *Client) PublishPresenceJoined(data []byte) error {
	return c.Publish(SubjectPresenceJoined, data)
}

// PublishPresenceLeft publishes a presence leave event.
func (c *Client) PublishPresenceLeft(data []byte) error {
	return c.Publish(SubjectPresenceLeft, data)
}

// PublishForumPost publishes a forum post creation event.
func (c *Client) PublishForumPost(data []byte) error {
	return c.Publish(SubjectForumPost, data)
}

// SubscribeAnnouncements registers a handler for operator announcements. The
// raw message payload is passed through to the handler. A nil client is a
// no-op.
func (c *Client) SubscribeAnnouncements(handler func(data []byte)) error {
	if c == nil {
		return nil
	}
	sub, err := c.conn.Subscribe(SubjectAnnounce, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectAnnounce, err)
	}

	c.mu.Lock()
	c.subs[SubjectAnnounce] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all subscriptions and closes the connection.
func (c *Client) Close() {
	if c == nil {
		return
	}

	c.mu.Lock()
	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	c.conn.Close()
}
