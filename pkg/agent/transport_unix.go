//go:build !windows

package agent

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
)

func dialTransport(ctx context.Context, socketPath string) (net.Conn, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}

	var d net.Dialer
	return d.DialContext(ctx, "unix", socketPath)
}

// Listen binds the agent socket, replacing a stale one left by a previous
// run.
func Listen(socketPath string) (net.Listener, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}

	if err := os.Remove(socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", socketPath)
}
