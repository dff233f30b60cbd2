package rpcclient

import (
	"context"
	"fmt"

	"github.com/kodflow/project-host/src/internal/domain/command"
	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
)

// HelperClient is the typed client of the privileged helper daemon.
type HelperClient struct {
	client *Client[protocol.CommandMessage, protocol.Reply]
}

// NewHelperClient creates a client of the helper socket at address.
func NewHelperClient(address string, dial DialFunc) *HelperClient {
	return &HelperClient{
		client: New[protocol.CommandMessage, protocol.Reply]("helper", address, protocol.CommandSpec{}, dial),
	}
}

// Execute validates cmd, sends it and returns the reply. An error reply is
// returned as *entity.CommandError.
func (h *HelperClient) Execute(ctx context.Context, cmd command.Command) (protocol.Reply, error) {
	if err := command.Validate(cmd); err != nil {
		return protocol.Reply{}, err
	}

	reply, err := h.client.Call(ctx, protocol.CommandMessage{Command: cmd})
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("helper %s: %w", cmd.Kind(), err)
	}
	if msg, failed := reply.Err(); failed {
		return reply, &entity.CommandError{Kind: string(cmd.Kind()), Message: msg}
	}
	return reply, nil
}

func (h *HelperClient) run(ctx context.Context, cmd command.Command) error {
	_, err := h.Execute(ctx, cmd)
	return err
}

// CreateUser creates the system principal of user.
func (h *HelperClient) CreateUser(ctx context.Context, user entity.Slug) error {
	return h.run(ctx, command.CreateUser{User: user})
}

// DeleteUser removes the system principal of user.
func (h *HelperClient) DeleteUser(ctx context.Context, user entity.Slug) error {
	return h.run(ctx, command.DeleteUser{User: user})
}

// CreateProject creates a project tree.
func (h *HelperClient) CreateProject(ctx context.Context, project entity.Slug) error {
	return h.run(ctx, command.CreateProject{Project: project})
}

// DeleteProject removes a project tree and its snapshots.
func (h *HelperClient) DeleteProject(ctx context.Context, project entity.Slug) error {
	return h.run(ctx, command.DeleteProject{Project: project})
}

// SetACL grants user access to path.
func (h *HelperClient) SetACL(ctx context.Context, path string, user entity.Slug, readOnly bool) error {
	return h.run(ctx, command.SetACL{Path: path, User: user, ReadOnly: readOnly})
}

// RemoveACL drops user's entries on path.
func (h *HelperClient) RemoveACL(ctx context.Context, path string, user entity.Slug) error {
	return h.run(ctx, command.RemoveACL{Path: path, User: user})
}

// BindMount mounts source onto target.
func (h *HelperClient) BindMount(ctx context.Context, source, target string, readOnly bool) error {
	return h.run(ctx, command.BindMount{Source: source, Target: target, ReadOnly: readOnly})
}

// Unmount detaches target.
func (h *HelperClient) Unmount(ctx context.Context, target string) error {
	return h.run(ctx, command.Unmount{Target: target})
}

// CreateSnapshot snapshots a project.
func (h *HelperClient) CreateSnapshot(ctx context.Context, project entity.Slug, name string) error {
	return h.run(ctx, command.CreateSnapshot{Project: project, Name: name})
}

// DeleteSnapshot removes a snapshot.
func (h *HelperClient) DeleteSnapshot(ctx context.Context, project entity.Slug, name string) error {
	return h.run(ctx, command.DeleteSnapshot{Project: project, Name: name})
}

// RestoreSnapshot rolls a project back to a snapshot.
func (h *HelperClient) RestoreSnapshot(ctx context.Context, project entity.Slug, name string) error {
	return h.run(ctx, command.RestoreSnapshot{Project: project, Name: name})
}

// MountSnapshot serves a snapshot as the production tree.
func (h *HelperClient) MountSnapshot(ctx context.Context, project entity.Slug, name string) error {
	return h.run(ctx, command.MountSnapshot{Project: project, Name: name})
}

// UnmountProd stops serving the production tree.
func (h *HelperClient) UnmountProd(ctx context.Context, project entity.Slug) error {
	return h.run(ctx, command.UnmountProd{Project: project})
}

// Ping probes the helper.
func (h *HelperClient) Ping(ctx context.Context) error {
	return h.client.Ping(ctx)
}

// Client exposes the underlying resilient client.
func (h *HelperClient) Client() *Client[protocol.CommandMessage, protocol.Reply] {
	return h.client
}

// Close closes the connection.
func (h *HelperClient) Close() error {
	return h.client.Close()
}
