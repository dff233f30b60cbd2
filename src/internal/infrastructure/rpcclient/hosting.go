package rpcclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/domain/hosting"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
)

// HostingClient is the typed client of the hosting controller. Reload and
// StopServing carry the current credential, which the maintenance
// scheduler rotates through SetCredential.
type HostingClient struct {
	client *Client[protocol.HostingMessage, protocol.Reply]

	mu         sync.RWMutex
	credential string
}

// NewHostingClient creates a client of the hosting endpoint at address.
func NewHostingClient(address string, dial DialFunc) *HostingClient {
	return &HostingClient{
		client: New[protocol.HostingMessage, protocol.Reply]("hosting", address, protocol.HostingSpec{}, dial),
	}
}

func (h *HostingClient) call(ctx context.Context, a hosting.Action) (protocol.Reply, error) {
	if err := hosting.Validate(a); err != nil {
		return protocol.Reply{}, err
	}

	reply, err := h.client.Call(ctx, protocol.HostingMessage{Action: a})
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("hosting %s: %w", a.Kind(), err)
	}
	if msg, failed := reply.Err(); failed {
		return reply, &entity.CommandError{Kind: string(a.Kind()), Message: msg}
	}
	return reply, nil
}

// SetCredential replaces the bearer token presented on state-changing
// calls.
func (h *HostingClient) SetCredential(token string) {
	h.mu.Lock()
	h.credential = token
	h.mu.Unlock()
}

// Credential returns the bearer token currently presented.
func (h *HostingClient) Credential() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.credential
}

// Reload starts or refreshes serving of project.
func (h *HostingClient) Reload(ctx context.Context, project entity.Slug) error {
	_, err := h.call(ctx, hosting.ReloadProject{Project: project, Token: h.Credential()})
	return err
}

// StopServing stops serving project.
func (h *HostingClient) StopServing(ctx context.Context, project entity.Slug) error {
	_, err := h.call(ctx, hosting.StopServingProject{Project: project, Token: h.Credential()})
	return err
}

// Authenticate asks the controller to check token and returns its
// subject.
func (h *HostingClient) Authenticate(ctx context.Context, token string) (string, error) {
	reply, err := h.call(ctx, hosting.Authenticate{Token: token})
	if err != nil {
		return "", err
	}
	var subject string
	if err := reply.DecodeData(&subject); err != nil {
		return "", fmt.Errorf("hosting authenticate: %w", err)
	}
	return subject, nil
}

// Ping probes the controller.
func (h *HostingClient) Ping(ctx context.Context) error {
	return h.client.Ping(ctx)
}

// Client exposes the underlying resilient client.
func (h *HostingClient) Client() *Client[protocol.HostingMessage, protocol.Reply] {
	return h.client
}

// Close closes the connection.
func (h *HostingClient) Close() error {
	return h.client.Close()
}
