package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/kodflow/project-host/src/internal/infrastructure/codec"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
)

type result[R any] struct {
	resp R
	err  error
}

// Conn is the client side of one multiplexed connection. Any number of
// goroutines may call it concurrently; each call is matched to its
// response by id.
type Conn[A, R any] struct {
	conn net.Conn
	spec Spec[A, R]

	// sending serializes writes so envelopes never interleave.
	sending sync.Mutex

	mu      sync.Mutex
	reqID   uint64
	pending map[uint64]chan result[R]
	pongs   []chan error
	err     error
	done    chan struct{}
}

// NewConn starts serving responses read from c.
func NewConn[A, R any](c net.Conn, spec Spec[A, R]) *Conn[A, R] {
	conn := &Conn[A, R]{
		conn:    c,
		spec:    spec,
		pending: make(map[uint64]chan result[R]),
		done:    make(chan struct{}),
	}
	go conn.readLoop()
	return conn
}

// Call sends action and waits for its response. An application failure
// is an ordinary response; the returned error is only set for transport,
// protocol, encoding or context failures. When ctx ends first the
// request is abandoned but may still run on the remote side.
func (c *Conn[A, R]) Call(ctx context.Context, action A) (R, error) {
	var zero R
	ch := make(chan result[R], 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return zero, err
	}
	c.reqID++
	if c.reqID == PingPongID {
		c.reqID = 1
	}
	id := c.reqID
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(Request[A]{ID: id, Action: action}); err != nil {
		c.forget(id)
		return zero, err
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		c.forget(id)
		return zero, ctx.Err()
	}
}

// Ping sends a liveness probe and waits for the pong.
func (c *Conn[A, R]) Ping(ctx context.Context) error {
	ch := make(chan error, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pongs = append(c.pongs, ch)
	c.mu.Unlock()

	if err := c.send(BuildPing(c.spec)); err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the connection down. Pending calls fail with ErrShutdown.
func (c *Conn[A, R]) Close() error {
	c.fail(ErrShutdown)
	return nil
}

// Done is closed once the connection is unusable.
func (c *Conn[A, R]) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that broke the connection, or nil while it is
// healthy.
func (c *Conn[A, R]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// send encodes v and writes it in one piece. Encoding failures leave the
// connection usable; write failures break it.
func (c *Conn[A, R]) send(v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	c.sending.Lock()
	_, err = c.conn.Write(data)
	c.sending.Unlock()
	if err != nil {
		terr := &TransportError{Op: "write", Err: err}
		c.fail(terr)
		return terr
	}
	return nil
}

func (c *Conn[A, R]) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn[A, R]) readLoop() {
	dec := codec.NewDecoder(c.conn)
	for {
		var resp Response[R]
		if err := dec.Decode(&resp); err != nil {
			if IsTransportError(err) {
				c.fail(&TransportError{Op: "read", Err: err})
			} else {
				c.fail(&ProtocolError{Err: err})
			}
			return
		}

		if resp.ID == PingPongID {
			c.handlePong(resp)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			// Abandoned by its caller.
			logger.WithField("request_id", resp.ID).Debug("Dropping response without pending call")
			continue
		}
		ch <- result[R]{resp: resp.Response}
	}
}

func (c *Conn[A, R]) handlePong(resp Response[R]) {
	var err error
	if msg, failed := GetError(c.spec, resp); failed {
		err = errors.New(msg)
	}

	c.mu.Lock()
	waiters := c.pongs
	c.pongs = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}

// fail breaks the connection with err and releases every waiter. Only the
// first call has an effect.
func (c *Conn[A, R]) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	pending := c.pending
	c.pending = make(map[uint64]chan result[R])
	waiters := c.pongs
	c.pongs = nil
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.Close() //nolint:errcheck // already failing

	for _, ch := range pending {
		ch <- result[R]{err: err}
	}
	for _, ch := range waiters {
		ch <- err
	}
}
