package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
)

// Server exposes a token session to other processes over a socket. Requests
// from all connections are serialized, since the session behind them holds a
// single verification state.
type Server struct {
	session piv.Session
	logger  *slog.Logger
	enc     cbor.EncMode

	mu sync.Mutex
}

func NewServer(sess piv.Session, opts ...options.Option) *Server {
	o := options.NewOptions(opts...)
	return &Server{
		session: sess,
		logger:  o.Logger,
		enc:     o.EncMode,
	}
}

// Serve accepts connections until the context is cancelled or the listener
// fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	s.logger.Debug("agent connection opened")
	for {
		msg, err := ParseMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("agent connection closed", slog.Any("error", err))
			}
			return
		}

		reply := s.handle(ctx, msg)
		if _, err := reply.WriteTo(conn); err != nil {
			s.logger.Debug("agent reply failed", slog.Any("error", err))
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, msg *Message) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.dispatch(ctx, msg)
	if err != nil {
		reply, msgErr := newMessage(s.enc, CommandError, encodeError(err))
		if msgErr != nil {
			return &Message{Command: CommandError}
		}
		return reply
	}

	reply, err := newMessage(s.enc, msg.Command, payload)
	if err != nil {
		return &Message{Command: CommandError}
	}
	return reply
}

func (s *Server) dispatch(ctx context.Context, msg *Message) (any, error) {
	switch msg.Command {
	case CommandHello:
		return &helloReply{
			Version: protocolVersion,
			Backend: fmt.Sprintf("%T", s.session),
		}, nil

	case CommandGetObject:
		req, err := decode[getObjectRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		data, err := s.session.GetObject(piv.ObjectID(req.ID))
		if err != nil {
			return nil, err
		}
		return &getObjectReply{Data: data}, nil

	case CommandPutObject:
		req, err := decode[putObjectRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.session.PutObject(piv.ObjectID(req.ID), req.Data)

	case CommandVerifyPIN:
		req, err := decode[verifyPINRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.session.VerifyPIN(req.PIN)

	case CommandPINAttempts:
		attempts, err := s.session.PINAttempts()
		if err != nil {
			return nil, err
		}
		return &pinAttemptsReply{Attempts: attempts}, nil

	case CommandAuthenticate:
		req, err := decode[authenticateRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		authCtx := ctx
		if req.TimeoutMS > 0 {
			var cancel context.CancelFunc
			authCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		return nil, s.session.Authenticate(authCtx, req.Key)

	case CommandChangePIN:
		req, err := decode[changeRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.session.ChangePIN(req.Old, req.New)

	case CommandChangePUK:
		req, err := decode[changeRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.session.ChangePUK(req.Old, req.New)

	case CommandUnblockPIN:
		req, err := decode[changeRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.session.UnblockPIN(req.Old, req.New)

	case CommandSetPINAttempts:
		req, err := decode[setPINAttemptsRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.session.SetPINAttempts(req.PIN, req.PUK)

	case CommandSetManagementKey:
		req, err := decode[setManagementKeyRequest](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.session.SetManagementKey(req.Key, req.RequireTouch)

	case CommandReset:
		return nil, s.session.Reset()

	default:
		return nil, errors.New("agent: unknown command")
	}
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := cbor.Unmarshal(data, &v)
	return v, err
}
