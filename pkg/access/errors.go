package access

import (
	"errors"
)

var (
	// ErrPINRequired means the PIN was needed but absent and prompting was
	// not available. No attempt was spent.
	ErrPINRequired = errors.New("access: PIN required")

	// ErrManagementKeyRequired means the management key was needed but
	// absent and prompting was not available.
	ErrManagementKeyRequired = errors.New("access: management key required")

	// ErrStoredKeyMissing means the protection record claims a stored
	// management key but protected data holds none. The token needs its
	// management key replaced to recover.
	ErrStoredKeyMissing = errors.New("access: protection record claims a stored key, protected data has none")
)

type ErrorWithMessage struct {
	Message string
	Err     error
}

func newErrorMessage(err error, msg string) *ErrorWithMessage {
	return &ErrorWithMessage{
		Message: msg,
		Err:     err,
	}
}

func (m *ErrorWithMessage) Error() string {
	if m.Message != "" {
		return m.Err.Error() + " (" + m.Message + ")"
	}
	return m.Err.Error()
}

func (m *ErrorWithMessage) Unwrap() error {
	return m.Err
}
