// Package rpcclient keeps one logical connection per remote endpoint and
// hides its lifecycle from callers: the connection is opened lazily,
// shared by concurrent callers and re-established once when the remote
// side goes away.
package rpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
)

// ErrClosed is returned by a client after Close.
var ErrClosed = errors.New("rpc client is closed")

// DialFunc opens a transport connection to address.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// DialerFor returns a DialFunc using protocol.Dial with the given TLS
// configuration, which may be nil.
func DialerFor(tlsConfig *tls.Config) DialFunc {
	return func(ctx context.Context, address string) (net.Conn, error) {
		return protocol.Dial(ctx, address, tlsConfig)
	}
}

// Client is a resilient client of one endpoint.
//
// When several callers find the client unconnected at the same time, the
// first one to take the write lock dials and publishes the connection;
// the others wait on the lock and reuse it. At most one connection is
// dialled per unconnected period.
type Client[A, R any] struct {
	name    string
	address string
	spec    protocol.Spec[A, R]
	dial    DialFunc

	mu     sync.RWMutex
	conn   *protocol.Conn[A, R]
	closed bool

	dials   atomic.Int64
	retries atomic.Int64
}

// New creates an unconnected client.
func New[A, R any](name, address string, spec protocol.Spec[A, R], dial DialFunc) *Client[A, R] {
	if dial == nil {
		dial = DialerFor(nil)
	}
	return &Client[A, R]{
		name:    name,
		address: address,
		spec:    spec,
		dial:    dial,
	}
}

// Address returns the endpoint address.
func (c *Client[A, R]) Address() string {
	return c.address
}

// GetOrConnect returns the published connection, dialling one if there is
// none or the published one is broken.
func (c *Client[A, R]) GetOrConnect(ctx context.Context) (*protocol.Conn[A, R], error) {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if conn != nil && conn.Err() == nil {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil && c.conn.Err() == nil {
		return c.conn, nil
	}

	nc, err := c.dial(ctx, c.address)
	if err != nil {
		return nil, err
	}
	c.dials.Add(1)
	c.conn = protocol.NewConn(nc, c.spec)

	logger.WithFields(map[string]interface{}{
		"endpoint": c.name,
		"address":  c.address,
	}).Debug("Connected")
	return c.conn, nil
}

// Disconnect closes conn and unpublishes it if it is still the current
// connection. A connection published by a later reconnect is left alone.
func (c *Client[A, R]) Disconnect(conn *protocol.Conn[A, R]) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close() //nolint:errcheck // never fails
}

// Call sends action and returns the reply. A transport failure on the
// first attempt triggers exactly one reconnect and resend; the error of
// that second attempt is what the caller sees. Other failures are
// returned as they are.
func (c *Client[A, R]) Call(ctx context.Context, action A) (R, error) {
	resp, err := c.attempt(ctx, action)
	if !c.shouldRetry(ctx, err) {
		return resp, err
	}

	c.retries.Add(1)
	logger.WithFields(map[string]interface{}{
		"endpoint": c.name,
		"address":  c.address,
		"error":    err.Error(),
	}).Warn("Connection lost, reconnecting once")
	return c.attempt(ctx, action)
}

// Ping probes liveness with the same single-retry policy as Call.
func (c *Client[A, R]) Ping(ctx context.Context) error {
	err := c.pingOnce(ctx)
	if !c.shouldRetry(ctx, err) {
		return err
	}
	c.retries.Add(1)
	return c.pingOnce(ctx)
}

func (c *Client[A, R]) shouldRetry(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && !errors.Is(err, ErrClosed) && protocol.IsTransportError(err)
}

func (c *Client[A, R]) attempt(ctx context.Context, action A) (R, error) {
	conn, err := c.GetOrConnect(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	resp, err := conn.Call(ctx, action)
	if err != nil && conn.Err() != nil {
		c.Disconnect(conn)
	}
	return resp, err
}

func (c *Client[A, R]) pingOnce(ctx context.Context) error {
	conn, err := c.GetOrConnect(ctx)
	if err != nil {
		return err
	}
	err = conn.Ping(ctx)
	if err != nil && conn.Err() != nil {
		c.Disconnect(conn)
	}
	return err
}

// Connected reports whether a healthy connection is published.
func (c *Client[A, R]) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.Err() == nil
}

// Dials returns how many connections the client has opened.
func (c *Client[A, R]) Dials() int64 {
	return c.dials.Load()
}

// Retries returns how many calls were resent after a transport failure.
func (c *Client[A, R]) Retries() int64 {
	return c.retries.Load()
}

// Close closes the current connection and refuses further calls.
func (c *Client[A, R]) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
