package agent

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-ctap/pivman/pkg/piv"
)

// protocolVersion is bumped whenever the command set or a wire struct
// changes incompatibly.
const protocolVersion = 1

type helloReply struct {
	Version uint32 `cbor:"1,keyasint"`
	Backend string `cbor:"2,keyasint"`
}

type getObjectRequest struct {
	ID uint32 `cbor:"1,keyasint"`
}

type getObjectReply struct {
	Data []byte `cbor:"1,keyasint"`
}

type putObjectRequest struct {
	ID   uint32 `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

type verifyPINRequest struct {
	PIN string `cbor:"1,keyasint"`
}

type pinAttemptsReply struct {
	Attempts int `cbor:"1,keyasint"`
}

type authenticateRequest struct {
	Key []byte `cbor:"1,keyasint"`
	// TimeoutMS bounds the touch wait on the agent side. Zero means no
	// deadline was set by the caller.
	TimeoutMS uint32 `cbor:"2,keyasint"`
}

type changeRequest struct {
	Old string `cbor:"1,keyasint"`
	New string `cbor:"2,keyasint"`
}

type setPINAttemptsRequest struct {
	PIN int `cbor:"1,keyasint"`
	PUK int `cbor:"2,keyasint"`
}

type setManagementKeyRequest struct {
	Key          []byte `cbor:"1,keyasint"`
	RequireTouch bool   `cbor:"2,keyasint"`
}

type errorCode byte

const (
	codeOther errorCode = iota
	codeApplicationNotFound
	codeNotFound
	codeSecurityStatus
	codeAuthenticationFailed
	codeUserActionTimeout
	codeKeySize
	codeNotResettable
	codeCredential
)

var sentinelCodes = map[errorCode]error{
	codeApplicationNotFound:  piv.ErrApplicationNotFound,
	codeNotFound:             piv.ErrNotFound,
	codeSecurityStatus:       piv.ErrSecurityStatus,
	codeAuthenticationFailed: piv.ErrAuthenticationFailed,
	codeUserActionTimeout:    piv.ErrUserActionTimeout,
	codeKeySize:              piv.ErrKeySize,
	codeNotResettable:        piv.ErrNotResettable,
}

// wireError carries a session failure across the connection without losing
// its identity. Credential failures keep their kind and retry count.
type wireError struct {
	Code    errorCode          `cbor:"1,keyasint"`
	Kind    piv.CredentialKind `cbor:"2,keyasint,omitempty"`
	Retries int                `cbor:"3,keyasint,omitempty"`
	Message string             `cbor:"4,keyasint,omitempty"`
}

func encodeError(err error) *wireError {
	var authErr *piv.AuthError
	if errors.As(err, &authErr) {
		return &wireError{
			Code:    codeCredential,
			Kind:    authErr.Kind,
			Retries: authErr.Retries,
		}
	}

	for code, sentinel := range sentinelCodes {
		if errors.Is(err, sentinel) {
			return &wireError{Code: code, Message: err.Error()}
		}
	}

	return &wireError{Code: codeOther, Message: err.Error()}
}

func decodeError(data []byte) error {
	var we wireError
	if err := cbor.Unmarshal(data, &we); err != nil {
		return err
	}

	if we.Code == codeCredential {
		return &piv.AuthError{Kind: we.Kind, Retries: we.Retries}
	}
	if sentinel, ok := sentinelCodes[we.Code]; ok {
		return sentinel
	}
	return errors.New(we.Message)
}
