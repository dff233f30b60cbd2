package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kodflow/project-host/src/internal/infrastructure/codec"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

// Handler answers one decoded request.
type Handler[A, R any] interface {
	Handle(ctx context.Context, action A) R
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[A, R any] func(ctx context.Context, action A) R

// Handle calls f.
func (f HandlerFunc[A, R]) Handle(ctx context.Context, action A) R {
	return f(ctx, action)
}

// ConnFilter may reject a connection before any request is read from it.
type ConnFilter func(conn net.Conn) error

// rawRequest defers payload decoding so that a bad payload can be
// answered while a bad envelope closes the connection.
type rawRequest struct {
	ID     uint64           `cbor:"id"`
	Action codec.RawMessage `cbor:"action"`
}

// Server is the daemon side of the protocol. Requests of one connection
// run concurrently on the worker pool and may complete out of order.
type Server[A, R any] struct {
	name    string
	spec    Spec[A, R]
	handler Handler[A, R]
	pool    *worker.Pool
	filter  ConnFilter

	conns sync.WaitGroup
}

// NewServer creates a server dispatching requests to handler on pool.
func NewServer[A, R any](name string, spec Spec[A, R], handler Handler[A, R], pool *worker.Pool) *Server[A, R] {
	return &Server[A, R]{
		name:    name,
		spec:    spec,
		handler: handler,
		pool:    pool,
	}
}

// WithFilter installs a connection filter, such as a rate limiter.
func (s *Server[A, R]) WithFilter(filter ConnFilter) *Server[A, R] {
	s.filter = filter
	return s
}

// Serve accepts connections until ctx ends, then waits for open
// connections to drain.
func (s *Server[A, R]) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close() //nolint:errcheck // unblocks Accept
	}()

	logger.WithFields(map[string]interface{}{
		"server":  s.name,
		"address": ln.Addr().String(),
	}).Info("Server listening")

	var err error
	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				break
			}
			logger.WithField("server", s.name).WithError(acceptErr).Error("Accept failed")
			var ne net.Error
			if errors.As(acceptErr, &ne) && ne.Timeout() {
				continue
			}
			err = fmt.Errorf("accepting on %s: %w", ln.Addr(), acceptErr)
			break
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.ServeConn(ctx, conn)
		}()
	}

	s.conns.Wait()
	logger.WithField("server", s.name).Info("Server stopped")
	return err
}

// ServeConn serves requests read from conn until the peer goes away, the
// stream breaks or ctx ends. In-flight requests are answered before the
// connection is closed.
func (s *Server[A, R]) ServeConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }() //nolint:errcheck // best effort

	log := logger.WithFields(map[string]interface{}{
		"server": s.name,
		"peer":   conn.RemoteAddr().String(),
	})

	if s.filter != nil {
		if err := s.filter(conn); err != nil {
			log.WithError(err).Warn("Connection rejected")
			return
		}
	}

	var (
		inflight sync.WaitGroup
		writeMu  sync.Mutex
	)
	defer inflight.Wait()

	// Unblock the read loop on shutdown without cutting off replies.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now()) //nolint:errcheck // best effort
	})
	defer stop()

	reply := func(resp Response[R]) {
		data, err := codec.Marshal(resp)
		if err != nil {
			log.WithError(err).WithField("request_id", resp.ID).Error("Encoding response failed")
			data, err = codec.Marshal(MakeError(s.spec, resp.ID, "encoding response failed"))
			if err != nil {
				return
			}
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := conn.Write(data); err != nil {
			log.WithError(err).WithField("request_id", resp.ID).Debug("Writing response failed")
		}
	}

	dec := codec.NewDecoder(conn)
	for {
		var req rawRequest
		if err := dec.Decode(&req); err != nil {
			switch {
			case ctx.Err() != nil:
				log.Debug("Connection drained on shutdown")
			case IsTransportError(err):
				log.Debug("Connection closed by peer")
			default:
				log.WithError(&ProtocolError{Err: err}).Warn("Malformed envelope, closing connection")
			}
			return
		}

		if req.ID == PingPongID {
			reply(BuildPong(s.spec))
			continue
		}

		var action A
		if err := codec.Unmarshal(req.Action, &action); err != nil {
			log.WithError(err).WithField("request_id", req.ID).Warn("Malformed payload")
			reply(MakeError(s.spec, req.ID, fmt.Sprintf("malformed payload: %v", err)))
			continue
		}

		id := req.ID
		inflight.Add(1)
		task := func(taskCtx context.Context) {
			defer inflight.Done()
			reply(Response[R]{ID: id, Response: s.handle(taskCtx, id, action)})
		}
		if err := s.pool.SubmitContext(ctx, task); err != nil {
			inflight.Done()
			reply(MakeError(s.spec, id, fmt.Sprintf("server unavailable: %v", err)))
		}
	}
}

// handle runs the handler, turning a panic into an error reply.
func (s *Server[A, R]) handle(ctx context.Context, id uint64, action A) (resp R) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"server":     s.name,
				"request_id": id,
				"panic":      r,
				"stack":      string(debug.Stack()),
			}).Error("Handler panic recovered")
			resp = s.spec.Error(fmt.Sprintf("internal error: %v", r))
		}
	}()
	return s.handler.Handle(ctx, action)
}
