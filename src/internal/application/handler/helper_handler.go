// Package handler connects the protocol servers to the domain services.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kodflow/project-host/src/internal/domain/service"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

// ErrPeerRejected is returned by PeerCredFilter for a caller whose uid is
// not allowed on the helper socket.
var ErrPeerRejected = errors.New("peer not allowed")

// HelperHandler answers helper protocol requests with the command service.
type HelperHandler struct {
	commands *service.CommandService
}

// NewHelperHandler creates a helper handler.
func NewHelperHandler(commands *service.CommandService) *HelperHandler {
	return &HelperHandler{commands: commands}
}

// Handle implements protocol.Handler.
func (h *HelperHandler) Handle(ctx context.Context, msg protocol.CommandMessage) protocol.Reply {
	return h.commands.Process(ctx, msg.Command)
}

// NewHelperServer builds the helper endpoint server. When allowedUIDs is
// not empty only those uids and root may talk to it.
func NewHelperServer(commands *service.CommandService, pool *worker.Pool, allowedUIDs ...uint32) *protocol.CommandServer {
	server := protocol.NewServer[protocol.CommandMessage, protocol.Reply](
		"helper", protocol.CommandSpec{}, NewHelperHandler(commands), pool)
	if len(allowedUIDs) > 0 {
		server.WithFilter(PeerCredFilter(allowedUIDs...))
	}
	return server
}

// PeerCredFilter returns a connection filter checking the kernel-reported
// uid of a Unix socket peer. Connections that are not Unix sockets are
// rejected.
func PeerCredFilter(allowedUIDs ...uint32) protocol.ConnFilter {
	allowed := make(map[uint32]bool, len(allowedUIDs)+1)
	allowed[0] = true
	for _, uid := range allowedUIDs {
		allowed[uid] = true
	}

	return func(conn net.Conn) error {
		uid, err := PeerUID(conn)
		if err != nil {
			return err
		}
		if !allowed[uid] {
			logger.WithField("uid", uid).Warn("Helper connection from unexpected uid")
			return fmt.Errorf("%w: uid %d", ErrPeerRejected, uid)
		}
		return nil
	}
}

// PeerUID returns the uid of the process on the other end of a Unix
// socket connection.
func PeerUID(conn net.Conn) (uint32, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("%w: %T is not a unix socket", ErrPeerRejected, conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("reading peer credentials: %w", err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, fmt.Errorf("reading peer credentials: %w", err)
	}
	if credErr != nil {
		return 0, fmt.Errorf("reading peer credentials: %w", credErr)
	}
	return cred.Uid, nil
}
