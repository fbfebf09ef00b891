package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
)

// Client is a token session backed by a running agent. It implements
// [piv.Session], so resolvers and admin flows work against it unchanged.
type Client struct {
	conn net.Conn
	enc  cbor.EncMode

	mu sync.Mutex
}

var _ piv.Session = (*Client)(nil)

// Dial connects to the agent. The transport is a Unix socket, or a named
// pipe on Windows.
func Dial(opts ...options.Option) (*Client, error) {
	o := options.NewOptions(opts...)

	conn, err := dialTransport(o.Context, o.SocketPath)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, enc: o.EncMode}, nil
}

// NewClient wraps an established connection, which tests use with a
// [net.Pipe].
func NewClient(conn net.Conn, opts ...options.Option) *Client {
	o := options.NewOptions(opts...)
	return &Client{conn: conn, enc: o.EncMode}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Hello checks that the agent speaks the same protocol version and returns
// the type of session it fronts.
func (c *Client) Hello() (string, error) {
	reply, err := c.roundTrip(CommandHello, nil)
	if err != nil {
		return "", err
	}

	var rep helloReply
	if err := cbor.Unmarshal(reply.Data, &rep); err != nil {
		return "", err
	}
	if rep.Version != protocolVersion {
		return "", fmt.Errorf("agent: protocol version %d, want %d", rep.Version, protocolVersion)
	}
	return rep.Backend, nil
}

func (c *Client) roundTrip(cmd Command, payload any) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := newMessage(c.enc, cmd, payload)
	if err != nil {
		return nil, err
	}
	if _, err := msg.WriteTo(c.conn); err != nil {
		return nil, err
	}

	reply, err := ParseMessage(c.conn)
	if err != nil {
		return nil, err
	}
	if reply.Command == CommandError {
		if len(reply.Data) == 0 {
			return nil, errors.New("agent: request failed")
		}
		return nil, decodeError(reply.Data)
	}
	return reply, nil
}

func (c *Client) GetObject(id piv.ObjectID) ([]byte, error) {
	reply, err := c.roundTrip(CommandGetObject, &getObjectRequest{ID: uint32(id)})
	if err != nil {
		return nil, err
	}

	var rep getObjectReply
	if err := cbor.Unmarshal(reply.Data, &rep); err != nil {
		return nil, err
	}
	return rep.Data, nil
}

func (c *Client) PutObject(id piv.ObjectID, data []byte) error {
	_, err := c.roundTrip(CommandPutObject, &putObjectRequest{ID: uint32(id), Data: data})
	return err
}

func (c *Client) VerifyPIN(pin string) error {
	_, err := c.roundTrip(CommandVerifyPIN, &verifyPINRequest{PIN: pin})
	return err
}

func (c *Client) PINAttempts() (int, error) {
	reply, err := c.roundTrip(CommandPINAttempts, nil)
	if err != nil {
		return 0, err
	}

	var rep pinAttemptsReply
	if err := cbor.Unmarshal(reply.Data, &rep); err != nil {
		return 0, err
	}
	return rep.Attempts, nil
}

// Authenticate forwards the key to the agent. A context deadline travels
// with the request so the agent bounds the touch wait; the local read
// deadline is kept slightly behind it to catch a hung agent.
func (c *Client) Authenticate(ctx context.Context, key []byte) error {
	req := &authenticateRequest{Key: key}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return piv.ErrUserActionTimeout
		}
		req.TimeoutMS = uint32(remaining.Milliseconds())

		_ = c.conn.SetReadDeadline(deadline.Add(2 * time.Second))
		defer func() {
			_ = c.conn.SetReadDeadline(time.Time{})
		}()
	}

	_, err := c.roundTrip(CommandAuthenticate, req)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return piv.ErrUserActionTimeout
	}
	return err
}

func (c *Client) ChangePIN(oldPIN, newPIN string) error {
	_, err := c.roundTrip(CommandChangePIN, &changeRequest{Old: oldPIN, New: newPIN})
	return err
}

func (c *Client) ChangePUK(oldPUK, newPUK string) error {
	_, err := c.roundTrip(CommandChangePUK, &changeRequest{Old: oldPUK, New: newPUK})
	return err
}

func (c *Client) UnblockPIN(puk, newPIN string) error {
	_, err := c.roundTrip(CommandUnblockPIN, &changeRequest{Old: puk, New: newPIN})
	return err
}

func (c *Client) SetPINAttempts(pinAttempts, pukAttempts int) error {
	_, err := c.roundTrip(CommandSetPINAttempts, &setPINAttemptsRequest{PIN: pinAttempts, PUK: pukAttempts})
	return err
}

func (c *Client) SetManagementKey(key []byte, requireTouch bool) error {
	_, err := c.roundTrip(CommandSetManagementKey, &setManagementKeyRequest{Key: key, RequireTouch: requireTouch})
	return err
}

func (c *Client) Reset() error {
	_, err := c.roundTrip(CommandReset, nil)
	return err
}
