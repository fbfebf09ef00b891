// Package piv defines the session surface of the PIV administrative
// application together with its credential and object vocabulary.
//
// A Session is an already-open connection to the admin application on one
// token. Implementations talk to real hardware, to an agent process holding
// the hardware connection, or to an in-memory token; the byte-level command
// encoding underneath is theirs. Sessions are not safe for concurrent use:
// the token serializes commands, so callers must too.
package piv

import "context"

// Session is a single sequential connection to the token's admin
// application.
//
// Operations return *AuthError on PIN and PUK rejections,
// ErrAuthenticationFailed on management key rejections, and
// ErrApplicationNotFound when the application is missing from the token.
type Session interface {
	// GetObject reads a data object. Reading a PIN-gated object without a
	// preceding VerifyPIN fails with ErrSecurityStatus.
	GetObject(id ObjectID) ([]byte, error)

	// PutObject writes a data object. Requires management key
	// authentication.
	PutObject(id ObjectID, data []byte) error

	// VerifyPIN presents the PIN. Success makes PIN the most recently
	// verified factor.
	VerifyPIN(pin string) error

	// PINAttempts reports the number of PIN attempts left without spending
	// one.
	PINAttempts() (int, error)

	// Authenticate presents the 24-byte management key. On tokens
	// configured to require it, the exchange blocks on a physical touch;
	// ctx bounds that wait and an expired ctx surfaces as
	// ErrUserActionTimeout.
	Authenticate(ctx context.Context, key []byte) error

	ChangePIN(oldPIN, newPIN string) error
	ChangePUK(oldPUK, newPUK string) error

	// UnblockPIN resets a blocked PIN using the PUK.
	UnblockPIN(puk, newPIN string) error

	// SetPINAttempts sets both retry budgets and resets PIN and PUK to
	// their factory defaults. Requires management key authentication and
	// PIN verification.
	SetPINAttempts(pinAttempts, pukAttempts int) error

	// SetManagementKey replaces the management key. Requires
	// authentication with the current key.
	SetManagementKey(key []byte, requireTouch bool) error

	// Reset wipes the application: keys, objects, retry counters. Only
	// possible once PIN and PUK are both blocked.
	Reset() error
}

// ValidPIN reports whether a PIN satisfies the 6 to 8 character policy.
// The policy belongs to calling tools; Session implementations accept any
// string the token itself would.
func ValidPIN(pin string) bool {
	return len(pin) >= 6 && len(pin) <= 8
}
