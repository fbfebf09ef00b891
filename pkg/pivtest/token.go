// Package pivtest provides an in-memory token session with real credential
// semantics: retry counters that spend and block, session verification
// state, and PIN-gated object reads. Tests drive the access engine against
// it, and the agent can serve it in place of hardware during development.
package pivtest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"

	"github.com/go-ctap/pivman/pkg/piv"
)

// DefaultAttempts is the factory retry budget for both PIN and PUK.
const DefaultAttempts = 3

// Call is one journaled session operation.
type Call struct {
	Op     string
	Object piv.ObjectID // set for GetObject and PutObject
}

// TouchFunc simulates the physical touch a token may demand before
// management key authentication. Returning ctx.Err() simulates a user who
// never touches.
type TouchFunc func(ctx context.Context) error

// Token is an in-memory piv.Session. The zero value is not usable; call
// New. Token is safe for use from multiple goroutines, though sessions are
// sequential by contract anyway.
type Token struct {
	mu sync.Mutex

	pin, puk      string
	managementKey []byte
	requireTouch  bool

	pinAttempts, pukAttempts int
	pinBudget, pukBudget     int

	objects map[piv.ObjectID][]byte

	// pinVerified and keyAuthenticated hold for the rest of the session
	// once set. PIN-gated reads check the former, object writes the
	// latter.
	pinVerified      bool
	keyAuthenticated bool

	applicationMissing bool

	// Touch, when set, runs before every management key check.
	Touch TouchFunc

	journal []Call
}

var _ piv.Session = (*Token)(nil)

// New returns a factory-fresh token: default PIN, PUK and management key,
// three attempts each, no objects.
func New() *Token {
	return &Token{
		pin:           piv.DefaultPIN,
		puk:           piv.DefaultPUK,
		managementKey: piv.DefaultManagementKey(),
		pinAttempts:   DefaultAttempts,
		pukAttempts:   DefaultAttempts,
		pinBudget:     DefaultAttempts,
		pukBudget:     DefaultAttempts,
		objects:       make(map[piv.ObjectID][]byte),
	}
}

func (t *Token) record(op string) {
	t.journal = append(t.journal, Call{Op: op})
}

func (t *Token) GetObject(id piv.ObjectID) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.journal = append(t.journal, Call{Op: "GetObject", Object: id})

	if t.applicationMissing {
		return nil, piv.ErrApplicationNotFound
	}
	if id.PINGated() && !t.pinVerified {
		return nil, piv.ErrSecurityStatus
	}
	data, ok := t.objects[id]
	if !ok {
		return nil, piv.ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (t *Token) PutObject(id piv.ObjectID, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.journal = append(t.journal, Call{Op: "PutObject", Object: id})

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	if !t.keyAuthenticated {
		return piv.ErrSecurityStatus
	}
	t.objects[id] = bytes.Clone(data)
	return nil
}

func (t *Token) VerifyPIN(pin string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("VerifyPIN")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	return t.spendAttempt(piv.CredentialPIN, pin)
}

func (t *Token) PINAttempts() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("PINAttempts")

	if t.applicationMissing {
		return 0, piv.ErrApplicationNotFound
	}
	return t.pinAttempts, nil
}

func (t *Token) Authenticate(ctx context.Context, key []byte) error {
	t.mu.Lock()
	touch := t.Touch
	t.mu.Unlock()

	if touch != nil {
		if err := touch(ctx); err != nil {
			t.mu.Lock()
			t.record("Authenticate")
			t.mu.Unlock()
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return piv.ErrUserActionTimeout
			}
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("Authenticate")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	if !bytes.Equal(key, t.managementKey) {
		return piv.ErrAuthenticationFailed
	}

	t.keyAuthenticated = true
	return nil
}

func (t *Token) ChangePIN(oldPIN, newPIN string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("ChangePIN")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	if err := t.spendAttempt(piv.CredentialPIN, oldPIN); err != nil {
		return err
	}
	t.pin = newPIN
	return nil
}

func (t *Token) ChangePUK(oldPUK, newPUK string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("ChangePUK")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	if err := t.spendAttempt(piv.CredentialPUK, oldPUK); err != nil {
		return err
	}
	t.puk = newPUK
	return nil
}

func (t *Token) UnblockPIN(puk, newPIN string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("UnblockPIN")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	if err := t.spendAttempt(piv.CredentialPUK, puk); err != nil {
		return err
	}
	t.pin = newPIN
	t.pinAttempts = t.pinBudget
	return nil
}

func (t *Token) SetPINAttempts(pinAttempts, pukAttempts int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("SetPINAttempts")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	// The token demands proof of both factors for retry policy changes.
	if !t.keyAuthenticated || !t.pinVerified {
		return piv.ErrSecurityStatus
	}

	t.pinBudget, t.pukBudget = pinAttempts, pukAttempts
	t.pinAttempts, t.pukAttempts = pinAttempts, pukAttempts
	t.pin, t.puk = piv.DefaultPIN, piv.DefaultPUK
	return nil
}

func (t *Token) SetManagementKey(key []byte, requireTouch bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("SetManagementKey")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	if !t.keyAuthenticated {
		return piv.ErrSecurityStatus
	}
	if len(key) != piv.ManagementKeySize {
		return piv.ErrKeySize
	}

	t.managementKey = bytes.Clone(key)
	t.requireTouch = requireTouch
	return nil
}

func (t *Token) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("Reset")

	if t.applicationMissing {
		return piv.ErrApplicationNotFound
	}
	if t.pinAttempts > 0 || t.pukAttempts > 0 {
		return piv.ErrNotResettable
	}

	t.pin, t.puk = piv.DefaultPIN, piv.DefaultPUK
	t.managementKey = piv.DefaultManagementKey()
	t.requireTouch = false
	t.pinBudget, t.pukBudget = DefaultAttempts, DefaultAttempts
	t.pinAttempts, t.pukAttempts = DefaultAttempts, DefaultAttempts
	t.objects = make(map[piv.ObjectID][]byte)
	t.pinVerified, t.keyAuthenticated = false, false
	return nil
}

// spendAttempt checks a PIN or PUK, burning one attempt on mismatch. Caller
// holds the lock.
func (t *Token) spendAttempt(kind piv.CredentialKind, presented string) error {
	attempts, budget := &t.pinAttempts, t.pinBudget
	expected := t.pin
	if kind == piv.CredentialPUK {
		attempts, budget = &t.pukAttempts, t.pukBudget
		expected = t.puk
	}

	if *attempts == 0 {
		return &piv.AuthError{Kind: kind, Retries: 0}
	}
	if presented != expected {
		*attempts--
		return &piv.AuthError{Kind: kind, Retries: *attempts}
	}

	*attempts = budget
	if kind == piv.CredentialPIN {
		t.pinVerified = true
	}
	return nil
}

// SeedObject writes an object directly, bypassing authorization and the
// journal. For test arrangement.
func (t *Token) SeedObject(id piv.ObjectID, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects[id] = bytes.Clone(data)
}

// SeedCredentials overrides PIN, PUK or management key. Empty string or nil
// leaves a credential unchanged.
func (t *Token) SeedCredentials(pin, puk string, key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pin != "" {
		t.pin = pin
	}
	if puk != "" {
		t.puk = puk
	}
	if key != nil {
		t.managementKey = bytes.Clone(key)
	}
}

// SeedAttempts sets the remaining attempt counters, e.g. to zero for a
// blocked credential.
func (t *Token) SeedAttempts(pin, puk int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinAttempts, t.pukAttempts = pin, puk
}

// RemoveApplication makes every operation fail as if the admin application
// were not installed.
func (t *Token) RemoveApplication() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applicationMissing = true
}

// AuthState reports whether the PIN has been verified and the management
// key authenticated this session.
func (t *Token) AuthState() (pinVerified, keyAuthenticated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinVerified, t.keyAuthenticated
}

// ManagementKey returns the current key, for assertions after rotation.
func (t *Token) ManagementKey() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.managementKey)
}

// PIN returns the current PIN, for assertions after changes.
func (t *Token) PIN() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pin
}

// Journal returns every session call made so far, in order.
func (t *Token) Journal() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.journal...)
}

// Ops returns just the operation names from the journal.
func (t *Token) Ops() []string {
	return lo.Map(t.Journal(), func(c Call, _ int) string {
		return c.Op
	})
}

// ClearJournal drops recorded calls, typically right after arranging a
// test.
func (t *Token) ClearJournal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.journal = nil
}
