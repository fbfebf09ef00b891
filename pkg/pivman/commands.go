package pivman

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/mo"

	"github.com/go-ctap/pivman/pkg/piv"
)

// ErrStoredKeyOrphaned means a key change would leave the old stored
// management key sitting in protected data with no way to clear it, because
// the PIN was not verified this session. Verify the PIN first, or opt into
// orphaning explicitly.
var ErrStoredKeyOrphaned = errors.New("pivman: stored management key cannot be cleared without PIN verification")

// KeyOptions control SetManagementKey.
type KeyOptions struct {
	// RequireTouch makes the token demand a physical touch for every
	// subsequent management key authentication.
	RequireTouch bool

	// StoreOnDevice saves the new key into the PIN-gated record and flags
	// the token as stored-key protected.
	StoreOnDevice bool

	// AllowOrphaned permits replacing the key even when an old stored key
	// cannot be cleared. The stale key remains readable behind the PIN.
	AllowOrphaned bool
}

// SetManagementKey replaces the management key and rewrites the metadata to
// match: the salt of a retired derived key is dropped, the stored-key flag
// tracks StoreOnDevice, and any previously stored key is cleared from
// protected data. The session must already be authenticated with the
// current management key; storing or clearing a protected key additionally
// needs the PIN verified.
func (cl *Client) SetManagementKey(sess piv.Session, newKey []byte, opts KeyOptions) error {
	if len(newKey) != piv.ManagementKeySize {
		return piv.ErrKeySize
	}

	meta, err := cl.ReadMetadata(sess)
	if err != nil {
		return err
	}

	var protected *ProtectedData
	if opts.StoreOnDevice || meta.HasStoredKey() {
		// Make sure protected data is readable before the key changes,
		// while the old state is still recoverable.
		protected, err = cl.ReadProtectedData(sess)
		if err != nil {
			if opts.StoreOnDevice {
				return err
			}
			if !opts.AllowOrphaned {
				return fmt.Errorf("%w: %w", ErrStoredKeyOrphaned, err)
			}
			cl.logger.Warn("leaving old stored management key in place", "err", err)
			protected = nil
		}
	}

	if err := sess.SetManagementKey(newKey, opts.RequireTouch); err != nil {
		return err
	}

	if meta.HasDerivedKey() {
		cl.logger.Debug("clearing salt of retired derived key")
		meta.Salt = mo.None[[]byte]()
	}
	meta.SetStoredKey(opts.StoreOnDevice)
	if err := sess.PutObject(piv.ObjectIDAdminData, meta.Bytes()); err != nil {
		return err
	}

	if protected == nil {
		return nil
	}
	switch {
	case opts.StoreOnDevice:
		protected.Key = mo.Some(newKey)
		return sess.PutObject(piv.ObjectIDProtectedData, protected.Bytes())
	case protected.Key.IsPresent():
		cl.logger.Debug("clearing stored management key")
		protected.Key = mo.None[[]byte]()
		return sess.PutObject(piv.ObjectIDProtectedData, protected.Bytes())
	}

	return nil
}

// ChangePIN changes the PIN and, on tokens with a derived management key,
// rotates key and salt so the new PIN still derives a working key. The
// rotation authenticates with the old derived key, so ctx bounds a possible
// touch wait.
func (cl *Client) ChangePIN(ctx context.Context, sess piv.Session, oldPIN, newPIN string) error {
	if err := sess.ChangePIN(oldPIN, newPIN); err != nil {
		return err
	}

	meta, err := cl.ReadMetadata(sess)
	if err != nil {
		return err
	}
	if !meta.HasDerivedKey() {
		return nil
	}

	cl.logger.Debug("deriving new management key for changed PIN")
	if err := sess.VerifyPIN(newPIN); err != nil {
		return err
	}

	newSalt, err := GenerateSalt()
	if err != nil {
		return err
	}
	newKey := DeriveManagementKey(newPIN, newSalt)

	oldSalt, _ := meta.Salt.Get()
	if err := sess.Authenticate(ctx, DeriveManagementKey(oldPIN, oldSalt)); err != nil {
		return err
	}
	if err := sess.SetManagementKey(newKey, false); err != nil {
		return err
	}

	meta.Salt = mo.Some(newSalt)
	return sess.PutObject(piv.ObjectIDAdminData, meta.Bytes())
}

// ChangePUK changes the PUK. A blocked-PUK result is recorded in the
// metadata record when the session is authorized to write it.
func (cl *Client) ChangePUK(sess piv.Session, oldPUK, newPUK string) error {
	err := sess.ChangePUK(oldPUK, newPUK)
	cl.notePUKBlocked(sess, err)
	return err
}

// UnblockPIN resets a blocked PIN using the PUK.
func (cl *Client) UnblockPIN(sess piv.Session, puk, newPIN string) error {
	err := sess.UnblockPIN(puk, newPIN)
	cl.notePUKBlocked(sess, err)
	return err
}

// SetPINAttempts sets both retry budgets, which also resets PIN and PUK to
// factory defaults. A previously recorded blocked PUK is no longer blocked
// afterwards, so the flag is cleared.
func (cl *Client) SetPINAttempts(sess piv.Session, pinAttempts, pukAttempts int) error {
	if err := sess.SetPINAttempts(pinAttempts, pukAttempts); err != nil {
		return err
	}

	meta, err := cl.ReadMetadata(sess)
	if err != nil {
		return err
	}
	if !meta.PUKBlocked() {
		return nil
	}
	meta.SetPUKBlocked(false)
	return sess.PutObject(piv.ObjectIDAdminData, meta.Bytes())
}

// Reset wipes the admin application back to factory state. The token only
// honors the reset instruction once PIN and PUK are both blocked, so any
// remaining attempts are burned with empty presentations first.
func (cl *Client) Reset(sess piv.Session) error {
	cl.logger.Debug("blocking PIN before reset")
	if err := blockCredential(func() error { return sess.VerifyPIN("") }); err != nil {
		return err
	}
	cl.logger.Debug("blocking PUK before reset")
	if err := blockCredential(func() error { return sess.UnblockPIN("", "") }); err != nil {
		return err
	}
	return sess.Reset()
}

// blockCredential repeats a doomed presentation until the credential
// reports blocked. The empty string can never satisfy the 6 to 8 character
// policy, so each attempt burns one retry.
func blockCredential(present func() error) error {
	for range 64 {
		err := present()
		var authErr *piv.AuthError
		if errors.As(err, &authErr) {
			if authErr.Blocked() {
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return errors.New("pivman: credential did not block")
}

// notePUKBlocked records a freshly blocked PUK in the metadata record.
// Writing needs management key authorization, which this flow rarely has,
// so failures only log.
func (cl *Client) notePUKBlocked(sess piv.Session, err error) {
	var authErr *piv.AuthError
	if !errors.As(err, &authErr) || authErr.Kind != piv.CredentialPUK || !authErr.Blocked() {
		return
	}

	meta, readErr := cl.ReadMetadata(sess)
	if readErr != nil || meta.PUKBlocked() {
		return
	}
	meta.SetPUKBlocked(true)
	if putErr := sess.PutObject(piv.ObjectIDAdminData, meta.Bytes()); putErr != nil {
		cl.logger.Debug("could not record blocked PUK", "err", putErr)
	}
}
