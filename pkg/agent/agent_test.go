package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ctap/pivman/pkg/access"
	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivtest"
)

func newAgentPair(t *testing.T, tok *pivtest.Token) *Client {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	srv := NewServer(tok, options.WithLogger(slog.New(slog.DiscardHandler)))

	ctx, cancel := context.WithCancel(context.Background())
	go srv.handleConn(ctx, serverConn)

	cl := NewClient(clientConn)
	t.Cleanup(func() {
		cancel()
		_ = cl.Close()
	})
	return cl
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(CommandVerifyPIN, &verifyPINRequest{PIN: "123456"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, byte(CommandVerifyPIN), buf.Bytes()[0])

	parsed, err := ParseMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, CommandVerifyPIN, parsed.Command)
	assert.Equal(t, msg.Data, parsed.Data)
}

func TestMessageEmptyPayload(t *testing.T) {
	msg, err := NewMessage(CommandReset, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(CommandReset), 0x00, 0x00}, buf.Bytes())

	parsed, err := ParseMessage(&buf)
	require.NoError(t, err)
	assert.Empty(t, parsed.Data)
}

func TestErrorCodec(t *testing.T) {
	for _, err := range []error{
		piv.ErrApplicationNotFound,
		piv.ErrNotFound,
		piv.ErrSecurityStatus,
		piv.ErrAuthenticationFailed,
		piv.ErrUserActionTimeout,
		piv.ErrKeySize,
		piv.ErrNotResettable,
	} {
		b, marshalErr := encMode.Marshal(encodeError(err))
		require.NoError(t, marshalErr)
		assert.ErrorIs(t, decodeError(b), err)
	}
}

func TestErrorCodecCredential(t *testing.T) {
	b, err := encMode.Marshal(encodeError(&piv.AuthError{Kind: piv.CredentialPUK, Retries: 2}))
	require.NoError(t, err)

	var authErr *piv.AuthError
	require.ErrorAs(t, decodeError(b), &authErr)
	assert.Equal(t, piv.CredentialPUK, authErr.Kind)
	assert.Equal(t, 2, authErr.Retries)
}

func TestErrorCodecOther(t *testing.T) {
	b, err := encMode.Marshal(encodeError(errors.New("something odd")))
	require.NoError(t, err)
	assert.EqualError(t, decodeError(b), "something odd")
}

func TestHello(t *testing.T) {
	tok := pivtest.New()
	cl := newAgentPair(t, tok)

	backend, err := cl.Hello()
	require.NoError(t, err)
	assert.Equal(t, "*pivtest.Token", backend)
}

func TestClientSessionOverPipe(t *testing.T) {
	tok := pivtest.New()
	cl := newAgentPair(t, tok)

	// Wrong PIN keeps its classification across the wire.
	err := cl.VerifyPIN("000000")
	var authErr *piv.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, piv.CredentialPIN, authErr.Kind)
	assert.Equal(t, pivtest.DefaultAttempts-1, authErr.Retries)

	require.NoError(t, cl.VerifyPIN(piv.DefaultPIN))

	attempts, err := cl.PINAttempts()
	require.NoError(t, err)
	assert.Equal(t, pivtest.DefaultAttempts, attempts)

	_, err = cl.GetObject(piv.ObjectIDAdminData)
	assert.ErrorIs(t, err, piv.ErrNotFound)

	err = cl.PutObject(piv.ObjectIDAdminData, []byte{0x80, 0x00})
	assert.ErrorIs(t, err, piv.ErrSecurityStatus)

	require.NoError(t, cl.Authenticate(context.Background(), piv.DefaultManagementKey()))
	require.NoError(t, cl.PutObject(piv.ObjectIDAdminData, []byte{0x80, 0x00}))

	data, err := cl.GetObject(piv.ObjectIDAdminData)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x00}, data)
}

func TestClientManagementFlow(t *testing.T) {
	tok := pivtest.New()
	cl := newAgentPair(t, tok)

	require.NoError(t, cl.ChangePIN(piv.DefaultPIN, "765432"))
	require.NoError(t, cl.ChangePUK(piv.DefaultPUK, "87654322"))
	require.NoError(t, cl.UnblockPIN("87654322", "222222"))
	assert.Equal(t, "222222", tok.PIN())

	newKey := bytes.Repeat([]byte{0x5A}, piv.ManagementKeySize)
	require.NoError(t, cl.Authenticate(context.Background(), piv.DefaultManagementKey()))
	require.NoError(t, cl.SetManagementKey(newKey, false))
	assert.Equal(t, newKey, tok.ManagementKey())

	require.NoError(t, cl.VerifyPIN("222222"))
	require.NoError(t, cl.SetPINAttempts(5, 5))

	attempts, err := cl.PINAttempts()
	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
}

func TestAuthenticateDeadlineTravels(t *testing.T) {
	tok := pivtest.New()
	tok.Touch = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	cl := newAgentPair(t, tok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := cl.Authenticate(ctx, piv.DefaultManagementKey())
	assert.ErrorIs(t, err, piv.ErrUserActionTimeout)
}

func TestResolverOverAgent(t *testing.T) {
	tok := pivtest.New()
	cl := newAgentPair(t, tok)

	resolver, err := access.New(cl, nil, options.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	_, err = resolver.EnsureAuthenticated(context.Background(), access.Credentials{
		ManagementKey: piv.DefaultManagementKey(),
	})
	require.NoError(t, err)

	// The session behind the agent really is authenticated now.
	_, keyAuthenticated := tok.AuthState()
	assert.True(t, keyAuthenticated)
}
