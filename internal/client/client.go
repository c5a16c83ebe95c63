// Package client implements the connecting side of the protocol: dial,
// handshake, request/response and push delivery.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/serpent-project/serpent/internal/network"
	"github.com/serpent-project/serpent/internal/protocol"
	"github.com/serpent-project/serpent/internal/session"
)

const (
	DefaultClientType       = "serpent-bot"
	DefaultVersion          = "0.1.0"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	Addr       string
	ClientType string
	Version    string
	// Name is sent as user.name in the handshake.
	Name string
	User map[string]any

	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration

	OnPush  session.PushFunc
	OnClose func(err error)
}

func (o *Options) applyDefaults() {
	if o.ClientType == "" {
		o.ClientType = DefaultClientType
	}
	if o.Version == "" {
		o.Version = DefaultVersion
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
}

// Client is a connected, handshaken protocol client.
type Client struct {
	opts Options
	sess *session.Session
}

// Dial connects to opts.Addr and blocks until the handshake completes.
// A rejected handshake returns an error matching session.ErrVersionRejected
// or session.ErrHandshakeRejected.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts.applyDefaults()

	var d net.Dialer
	rawConn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Addr, err)
	}

	user := make(map[string]any, len(opts.User)+1)
	for k, v := range opts.User {
		user[k] = v
	}
	if opts.Name != "" {
		user["name"] = opts.Name
	}

	c := &Client{opts: opts}
	c.sess = session.New(network.NewConnection(rawConn), session.Options{
		Role:             session.RoleClient,
		HandshakeTimeout: opts.HandshakeTimeout,
		Handshake:        protocol.NewHandshakeRequest(opts.ClientType, opts.Version, user),
		OnPush:           opts.OnPush,
		OnClose: func(_ *session.Session, err error) {
			if opts.OnClose != nil {
				opts.OnClose(err)
			}
		},
	})

	// The session outlives the dial context.
	go c.sess.Run(context.Background())

	select {
	case <-c.sess.Working():
		log.Debug().
			Str("component", "client").
			Str("addr", opts.Addr).
			Dur("heartbeat", c.sess.HeartbeatInterval()).
			Msg("connected")
		return c, nil
	case <-c.sess.Done():
		return nil, c.sess.Err()
	case <-ctx.Done():
		c.sess.Close()
		return nil, ctx.Err()
	}
}

// Request sends a request and decodes the JSON response into out when out is
// non-nil. Without a deadline on ctx the configured request timeout applies.
func (c *Client) Request(ctx context.Context, route string, body, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	resp, err := c.sess.Request(ctx, route, body)
	if err != nil {
		return fmt.Errorf("request %s: %w", route, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("request %s: failed to decode response: %w", route, err)
	}
	return nil
}

// Notify sends a one-way message.
func (c *Client) Notify(route string, body any) error {
	return c.sess.Notify(route, body)
}

// User returns the user object the server returned at handshake.
func (c *Client) User() map[string]any {
	return c.sess.HandshakeUser()
}

// UserID returns user.id from the handshake response, zero when absent.
func (c *Client) UserID() uint32 {
	if id, ok := c.sess.HandshakeUser()["id"].(float64); ok {
		return uint32(id)
	}
	return 0
}

// Session exposes the underlying protocol session.
func (c *Client) Session() *session.Session {
	return c.sess
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.sess.Done()
}

// Err returns why the connection ended.
func (c *Client) Err() error {
	return c.sess.Err()
}

// Close disconnects.
func (c *Client) Close() error {
	return c.sess.Close()
}
