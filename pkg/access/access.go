// Package access resolves which credentials an administrative operation
// needs and obtains them in the order the token demands.
//
// A 24-byte management key gates structural operations and a PIN gates
// personal ones, but the token's protection mode decides how the two
// relate: the management key may be derived from the PIN, stored behind
// it, or independent of it. The Resolver reads the protection record once
// per session and turns "make sure I may do this" into the exact sequence
// of verifications and authentications, surfacing typed failures instead
// of retrying anything itself. Every failed PIN or PUK presentation spends
// device-enforced retry budget, so retry decisions belong to callers.
package access

import (
	"context"
	"log/slog"

	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivman"
)

// Credentials are the caller-supplied inputs, either of which may be
// absent. An empty PIN or a nil key means "not supplied"; whether that
// leads to a prompt or a failure depends on the call options and the
// presence of a Prompter.
type Credentials struct {
	PIN           string
	ManagementKey []byte
}

// Outcome reports what a resolution did. Callers about to run a
// PIN-dependent operation use PINVerified to skip a redundant
// verification.
type Outcome struct {
	PINVerified bool
}

// Prompter supplies credentials interactively. Implementations render
// prompts however they like; the Resolver only decides when one is needed.
// A nil Prompter makes every needed prompt fail like NoPrompt.
type Prompter interface {
	PIN(ctx context.Context) (string, error)
	ManagementKey(ctx context.Context, prompt string) ([]byte, error)
}

// Resolver owns the cached protection record for one session and runs the
// credential resolution against it. Like the session underneath, it is not
// safe for concurrent use.
type Resolver struct {
	session  piv.Session
	client   *pivman.Client
	prompter Prompter
	logger   *slog.Logger
	record   *pivman.Metadata
}

// New reads the protection record and returns a resolver bound to the
// session. A token without the admin application fails here with
// piv.ErrApplicationNotFound, which is fatal for the whole session.
func New(sess piv.Session, prompter Prompter, opts ...options.Option) (*Resolver, error) {
	oo := options.NewOptions(opts...)

	r := &Resolver{
		session:  sess,
		client:   pivman.NewClient(opts...),
		prompter: prompter,
		logger:   oo.Logger,
	}

	record, err := r.client.ReadMetadata(sess)
	if err != nil {
		return nil, newErrorMessage(err, "reading protection record")
	}
	r.record = record

	return r, nil
}

// Record returns the cached protection record.
func (r *Resolver) Record() *pivman.Metadata {
	return r.record
}

// Refresh re-reads the protection record. Needed only after an operation
// that changes protection mode, such as storing or unstoring the
// management key.
func (r *Resolver) Refresh() error {
	record, err := r.client.ReadMetadata(r.session)
	if err != nil {
		return newErrorMessage(err, "reading protection record")
	}
	r.record = record
	return nil
}

// EnsureAuthenticated obtains whatever the protection mode requires for a
// structural operation.
//
// On a PIN-protected token the PIN alone resolves the management key, so
// the PIN path runs unless the caller supplied an explicit key, which
// bypasses the PIN entirely. On an unprotected token the key is obtained
// directly, with the PIN demanded first only under RequireBothFactors.
//
// The engine never re-tries a rejected credential; it returns the
// classified failure and lets the caller decide. ctx bounds prompts and
// the touch wait during authentication.
func (r *Resolver) EnsureAuthenticated(ctx context.Context, creds Credentials, opts ...AuthOption) (*Outcome, error) {
	cfg := newAuthConfig(opts...)
	outcome := &Outcome{}

	if r.record.HasProtectedKey() {
		if len(creds.ManagementKey) == 0 {
			r.logger.Debug("resolving management key through PIN",
				"derived", r.record.HasDerivedKey(),
				"stored", r.record.HasStoredKey(),
			)
			if err := r.verifyPIN(ctx, cfg, creds.PIN); err != nil {
				return nil, err
			}
			outcome.PINVerified = true
		} else {
			r.logger.Debug("explicit management key supplied, bypassing PIN")
			if err := r.authenticate(ctx, cfg, creds.ManagementKey); err != nil {
				return nil, err
			}
		}
		return outcome, nil
	}

	if cfg.requireBoth {
		if err := r.verifyPIN(ctx, cfg, creds.PIN); err != nil {
			return nil, err
		}
		outcome.PINVerified = true
	}
	if err := r.authenticate(ctx, cfg, creds.ManagementKey); err != nil {
		return nil, err
	}

	return outcome, nil
}

// VerifyPIN verifies the PIN for an operation that needs nothing else,
// leaving PIN as the most recent verified factor. On tokens with a derived
// or stored management key that includes the full unlock sequence, exactly
// like the PIN path of EnsureAuthenticated.
func (r *Resolver) VerifyPIN(ctx context.Context, pin string, opts ...AuthOption) error {
	return r.verifyPIN(ctx, newAuthConfig(opts...), pin)
}

// verifyPIN runs the mandated order: verify, then on protected tokens
// authenticate with the derived or stored key and verify again so that PIN
// verification is the last exchange. Operations after this may require
// verification to be the most recent command, so the trailing verify is a
// protocol step, not belt and braces.
func (r *Resolver) verifyPIN(ctx context.Context, cfg *authConfig, pin string) error {
	if pin == "" {
		if cfg.noPrompt || r.prompter == nil {
			return ErrPINRequired
		}
		prompted, err := r.prompter.PIN(ctx)
		if err != nil {
			return err
		}
		pin = prompted
	}

	if err := r.session.VerifyPIN(pin); err != nil {
		return newErrorMessage(err, "verifying PIN")
	}

	// Failures below are not PIN failures: the PIN has already verified,
	// and callers must not treat them as retry-worthy attempts.
	switch {
	case r.record.HasDerivedKey():
		salt, _ := r.record.Salt.Get()
		r.logger.Debug("authenticating with PIN-derived management key")
		if err := r.session.Authenticate(ctx, pivman.DeriveManagementKey(pin, salt)); err != nil {
			return err
		}
		return r.session.VerifyPIN(pin)

	case r.record.HasStoredKey():
		protected, err := r.client.ReadProtectedData(r.session)
		if err != nil {
			return err
		}
		key, ok := protected.Key.Get()
		if !ok {
			return ErrStoredKeyMissing
		}
		r.logger.Debug("authenticating with stored management key")
		if err := r.session.Authenticate(ctx, key); err != nil {
			return err
		}
		return r.session.VerifyPIN(pin)
	}

	return nil
}

func (r *Resolver) authenticate(ctx context.Context, cfg *authConfig, key []byte) error {
	if len(key) == 0 {
		if cfg.noPrompt || r.prompter == nil {
			return ErrManagementKeyRequired
		}
		prompted, err := r.prompter.ManagementKey(ctx, cfg.keyPrompt)
		if err != nil {
			return err
		}
		key = prompted
	}

	if err := r.session.Authenticate(ctx, key); err != nil {
		return newErrorMessage(err, "authenticating with management key")
	}

	return nil
}
