package agent

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

func dialTransport(ctx context.Context, socketPath string) (net.Conn, error) {
	if socketPath == "" {
		socketPath = NamedPipePath
	}
	return winio.DialPipeContext(ctx, socketPath)
}

// Listen binds the agent's named pipe.
func Listen(socketPath string) (net.Listener, error) {
	if socketPath == "" {
		socketPath = NamedPipePath
	}
	return winio.ListenPipe(socketPath, nil)
}
