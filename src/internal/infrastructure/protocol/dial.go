package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

const unixPrefix = "unix:"

// SplitAddress returns the network and address of an endpoint. A "unix:"
// prefix or an absolute path selects a Unix socket; anything else is a
// TCP host:port.
func SplitAddress(address string) (network, addr string) {
	if strings.HasPrefix(address, unixPrefix) {
		return "unix", strings.TrimPrefix(address, unixPrefix)
	}
	if filepath.IsAbs(address) {
		return "unix", address
	}
	return "tcp", address
}

// Dial connects to an endpoint. tlsConfig is only used for TCP endpoints
// and may be nil.
func Dial(ctx context.Context, address string, tlsConfig *tls.Config) (net.Conn, error) {
	network, addr := SplitAddress(address)
	dialer := &net.Dialer{}

	if network == "tcp" && tlsConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := td.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", address, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return conn, nil
}

// Listen opens the listening side of an endpoint. A stale Unix socket is
// removed first and the new one is restricted to mode.
func Listen(address string, tlsConfig *tls.Config, mode os.FileMode) (net.Listener, error) {
	network, addr := SplitAddress(address)

	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(addr), 0o755); err != nil {
			return nil, fmt.Errorf("creating socket directory: %w", err)
		}
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", addr, err)
		}
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}

	if network == "unix" {
		if mode == 0 {
			mode = 0o660
		}
		if err := os.Chmod(addr, mode); err != nil {
			_ = ln.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("restricting socket %s: %w", addr, err)
		}
		return ln, nil
	}

	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	return ln, nil
}
