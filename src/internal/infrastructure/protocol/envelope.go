// Package protocol implements the multiplexed request/response channel
// shared by the helper and hosting endpoints. Every message is an
// {id, payload} envelope encoded as one CBOR item; responses are matched
// to requests by id only, never by arrival order.
package protocol

import "math"

// PingPongID is the id reserved for liveness probes. It is never handed
// out to ordinary calls.
const PingPongID uint64 = math.MaxUint64

// Request wraps an action with its correlation id.
type Request[A any] struct {
	ID     uint64 `cbor:"id"`
	Action A      `cbor:"action"`
}

// Response wraps a reply with the id of the request it answers.
type Response[R any] struct {
	ID       uint64 `cbor:"id"`
	Response R      `cbor:"response"`
}

// Spec supplies the protocol-specific payloads of one endpoint: which
// action is the ping, which reply is the pong, and how failures are
// carried inside a reply.
type Spec[A, R any] interface {
	Ping() A
	Pong() R
	Error(message string) R
	ErrorOf(reply R) (string, bool)
}

// BuildPing returns the liveness request of a protocol.
func BuildPing[A, R any](s Spec[A, R]) Request[A] {
	return Request[A]{ID: PingPongID, Action: s.Ping()}
}

// BuildPong returns the liveness response of a protocol.
func BuildPong[A, R any](s Spec[A, R]) Response[R] {
	return Response[R]{ID: PingPongID, Response: s.Pong()}
}

// MakeError returns a response reporting message as the failure of
// request id.
func MakeError[A, R any](s Spec[A, R], id uint64, message string) Response[R] {
	return Response[R]{ID: id, Response: s.Error(message)}
}

// GetError returns the failure carried by resp, if any.
func GetError[A, R any](s Spec[A, R], resp Response[R]) (string, bool) {
	return s.ErrorOf(resp.Response)
}
