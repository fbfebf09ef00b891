package piv

import (
	"errors"
	"strconv"
)

var (
	ErrApplicationNotFound  = errors.New("piv: admin application not present on the token")
	ErrNotFound             = errors.New("piv: object not found")
	ErrSecurityStatus       = errors.New("piv: security status not satisfied")
	ErrAuthenticationFailed = errors.New("piv: management key authentication failed")
	ErrUserActionTimeout    = errors.New("piv: touch confirmation not given in time")
	ErrKeySize              = errors.New("piv: management key must be 24 bytes")
	ErrNotResettable        = errors.New("piv: reset requires PIN and PUK to be blocked")
)

// AuthError is a rejected PIN or PUK presentation. Retries is the number of
// attempts the token will still accept; zero means the credential is blocked
// until its reset path is used.
type AuthError struct {
	Kind    CredentialKind
	Retries int
}

func (e *AuthError) Error() string {
	if e.Retries == 0 {
		return "piv: " + e.Kind.String() + " is blocked"
	}
	return "piv: wrong " + e.Kind.String() +
		" (" + strconv.Itoa(e.Retries) + " tries left)"
}

// Blocked reports whether the credential has no attempts left.
func (e *AuthError) Blocked() bool {
	return e.Retries == 0
}
