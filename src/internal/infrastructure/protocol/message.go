package protocol

import (
	"errors"
	"fmt"

	"github.com/kodflow/project-host/src/internal/domain/command"
	"github.com/kodflow/project-host/src/internal/domain/hosting"
	"github.com/kodflow/project-host/src/internal/infrastructure/codec"
)

// variant is the wire form of a tagged payload.
type variant struct {
	Kind string           `cbor:"kind"`
	Body codec.RawMessage `cbor:"body,omitempty"`
}

func marshalVariant(kind string, body any) ([]byte, error) {
	raw, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", kind, err)
	}
	return codec.Marshal(variant{Kind: kind, Body: raw})
}

// CommandMessage carries a privileged command on the helper endpoint.
type CommandMessage struct {
	Command command.Command
}

// MarshalCBOR encodes the command as {kind, body}.
func (m CommandMessage) MarshalCBOR() ([]byte, error) {
	if m.Command == nil {
		return nil, errors.New("encoding command message: no command")
	}
	return marshalVariant(string(m.Command.Kind()), m.Command)
}

// UnmarshalCBOR decodes {kind, body} into the matching command type.
func (m *CommandMessage) UnmarshalCBOR(data []byte) error {
	var v variant
	if err := codec.Unmarshal(data, &v); err != nil {
		return err
	}
	cmd, err := command.Decode(command.Kind(v.Kind), v.Body, codec.Unmarshal)
	if err != nil {
		return err
	}
	m.Command = cmd
	return nil
}

// HostingMessage carries a hosting action on the hosting endpoint.
type HostingMessage struct {
	Action hosting.Action
}

// MarshalCBOR encodes the action as {kind, body}.
func (m HostingMessage) MarshalCBOR() ([]byte, error) {
	if m.Action == nil {
		return nil, errors.New("encoding hosting message: no action")
	}
	return marshalVariant(string(m.Action.Kind()), m.Action)
}

// UnmarshalCBOR decodes {kind, body} into the matching action type.
func (m *HostingMessage) UnmarshalCBOR(data []byte) error {
	var v variant
	if err := codec.Unmarshal(data, &v); err != nil {
		return err
	}
	a, err := hosting.Decode(hosting.Kind(v.Kind), v.Body, codec.Unmarshal)
	if err != nil {
		return err
	}
	m.Action = a
	return nil
}

// ReplyKind tells success, failure and liveness replies apart.
type ReplyKind string

// Reply kinds.
const (
	ReplyOK    ReplyKind = "ok"
	ReplyError ReplyKind = "error"
	ReplyPong  ReplyKind = "pong"
)

// Reply is the response payload of both endpoints.
type Reply struct {
	Kind    ReplyKind        `cbor:"kind"`
	Message string           `cbor:"message,omitempty"`
	Data    codec.RawMessage `cbor:"data,omitempty"`
}

// OK returns a bare success reply.
func OK() Reply {
	return Reply{Kind: ReplyOK}
}

// OKWith returns a success reply carrying v.
func OKWith(v any) (Reply, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return Reply{}, fmt.Errorf("encoding reply data: %w", err)
	}
	return Reply{Kind: ReplyOK, Data: data}, nil
}

// ErrorReply returns a failure reply.
func ErrorReply(message string) Reply {
	return Reply{Kind: ReplyError, Message: message}
}

// Err returns the failure carried by the reply.
func (r Reply) Err() (string, bool) {
	if r.Kind == ReplyError {
		return r.Message, true
	}
	return "", false
}

// DecodeData decodes the data of a success reply into v.
func (r Reply) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return errors.New("reply carries no data")
	}
	return codec.Unmarshal(r.Data, v)
}

// CommandSpec is the helper endpoint protocol.
type CommandSpec struct{}

// Ping returns the helper liveness command.
func (CommandSpec) Ping() CommandMessage { return CommandMessage{Command: command.Ping{}} }

// Pong returns the helper liveness reply.
func (CommandSpec) Pong() Reply { return Reply{Kind: ReplyPong} }

// Error returns a helper failure reply.
func (CommandSpec) Error(message string) Reply { return ErrorReply(message) }

// ErrorOf returns the failure of a helper reply.
func (CommandSpec) ErrorOf(r Reply) (string, bool) { return r.Err() }

// HostingSpec is the hosting endpoint protocol.
type HostingSpec struct{}

// Ping returns the hosting liveness action.
func (HostingSpec) Ping() HostingMessage { return HostingMessage{Action: hosting.Ping{}} }

// Pong returns the hosting liveness reply.
func (HostingSpec) Pong() Reply { return Reply{Kind: ReplyPong} }

// Error returns a hosting failure reply.
func (HostingSpec) Error(message string) Reply { return ErrorReply(message) }

// ErrorOf returns the failure of a hosting reply.
func (HostingSpec) ErrorOf(r Reply) (string, bool) { return r.Err() }

// Endpoint-specific instantiations.
type (
	CommandConn   = Conn[CommandMessage, Reply]
	HostingConn   = Conn[HostingMessage, Reply]
	CommandServer = Server[CommandMessage, Reply]
	HostingServer = Server[HostingMessage, Reply]
)
