// Package natsrpc adapts NATS request/reply into the proxy's remote-call
// contract. Each subject becomes a RemoteFunc: the argument list is
// serialized into a JSON envelope, the reply payload feeds the success
// channel, and transport errors (timeouts, missing responders, closed
// connections) feed the fault channel. The package owns no retry or
// caching behavior; one request maps to one completion.
package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jrazmi/storeproxy/core/proxy"
	"github.com/jrazmi/storeproxy/sdk/environment"
)

// Envelope is the wire shape for one remote call: the ordered positional
// argument list the args builder produced.
type Envelope struct {
	Args []any `json:"args"`
}

// Options represents the exportable client configuration
type Options struct {
	URL            string        `env:"NATS_URL" default:"nats://127.0.0.1:4222"`
	RequestTimeout time.Duration `env:"NATS_REQUEST_TIMEOUT" default:"5s"`
	Name           string        `env:"NATS_CLIENT_NAME" default:"storeproxy"`
}

// options holds the internal runtime configuration
type options struct {
	url     string
	timeout time.Duration
	name    string
	logger  *slog.Logger
	conn    *nats.Conn
}

// Option is a function that configures the client options
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithURL overrides the server URL
func WithURL(url string) Option {
	return func(o *options) {
		o.url = url
	}
}

// WithRequestTimeout sets the per-call timeout
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithConn reuses an existing connection instead of dialing. The caller
// keeps ownership; Close becomes a no-op for the connection.
func WithConn(conn *nats.Conn) Option {
	return func(o *options) {
		o.conn = conn
	}
}

// Client turns NATS subjects into remote functions.
type Client struct {
	conn     *nats.Conn
	ownsConn bool
	timeout  time.Duration
	log      *slog.Logger
}

// NewFromEnv creates a client using environment variables
func NewFromEnv(prefix string, opts ...Option) (*Client, error) {
	var cfg Options
	if err := environment.ParseEnvTags(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing natsrpc config: %w", err)
	}
	return newClient(cfg, opts...)
}

// New creates a client with explicit configuration
func New(cfg Options, opts ...Option) (*Client, error) {
	return newClient(cfg, opts...)
}

func newClient(cfg Options, opts ...Option) (*Client, error) {
	internalOpts := &options{
		url:     cfg.URL,
		timeout: cfg.RequestTimeout,
		name:    cfg.Name,
	}
	for _, opt := range opts {
		opt(internalOpts)
	}
	if internalOpts.logger == nil {
		internalOpts.logger = slog.Default()
	}
	if internalOpts.timeout <= 0 {
		internalOpts.timeout = 5 * time.Second
	}

	conn := internalOpts.conn
	ownsConn := false
	if conn == nil {
		var err error
		conn, err = nats.Connect(internalOpts.url, nats.Name(internalOpts.name))
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", internalOpts.url, err)
		}
		ownsConn = true
	}

	return &Client{
		conn:     conn,
		ownsConn: ownsConn,
		timeout:  internalOpts.timeout,
		log:      internalOpts.logger,
	}, nil
}

// Close drains the client's own connection. Borrowed connections are
// left open.
func (c *Client) Close() {
	if c.ownsConn {
		c.conn.Close()
	}
}

// RemoteFunc binds a subject to the proxy's remote-call contract. The
// returned function dispatches asynchronously and completes done from a
// client goroutine.
func (c *Client) RemoteFunc(subject string) proxy.RemoteFunc {
	return func(ctx context.Context, args []any, done *proxy.Completion) {
		go c.request(ctx, subject, args, done)
	}
}

func (c *Client) request(ctx context.Context, subject string, args []any, done *proxy.Completion) {
	payload, err := json.Marshal(Envelope{Args: args})
	if err != nil {
		done.Reject("encoding request", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.DebugContext(ctx, "nats request", "subject", subject, "bytes", len(payload))

	msg, err := c.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		done.Reject(faultMessage(err), err)
		return
	}

	done.Resolve(msg.Data)
}

// faultMessage condenses transport errors into the short message slot of
// the fault channel; the full error travels alongside it.
func faultMessage(err error) string {
	switch {
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, nats.ErrNoResponders):
		return "no responders"
	case errors.Is(err, nats.ErrConnectionClosed):
		return "connection closed"
	default:
		return "request failed"
	}
}
