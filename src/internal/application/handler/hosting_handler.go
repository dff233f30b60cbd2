package handler

import (
	"context"

	"github.com/kodflow/project-host/src/internal/domain/service"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
	"github.com/kodflow/project-host/src/internal/infrastructure/ratelimit"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

// HostingHandler answers hosting protocol requests with the hosting
// service.
type HostingHandler struct {
	hosting *service.HostingService
}

// NewHostingHandler creates a hosting handler.
func NewHostingHandler(hosting *service.HostingService) *HostingHandler {
	return &HostingHandler{hosting: hosting}
}

// Handle implements protocol.Handler.
func (h *HostingHandler) Handle(ctx context.Context, msg protocol.HostingMessage) protocol.Reply {
	return h.hosting.Process(ctx, msg.Action)
}

// NewHostingServer builds the hosting endpoint server. A nil limiter
// accepts every connection.
func NewHostingServer(hosting *service.HostingService, pool *worker.Pool, limiter *ratelimit.RateLimiter) *protocol.HostingServer {
	server := protocol.NewServer[protocol.HostingMessage, protocol.Reply](
		"hosting", protocol.HostingSpec{}, NewHostingHandler(hosting), pool)
	if limiter != nil {
		server.WithFilter(limiter.AllowConn)
	}
	return server
}
