package pivman_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivman"
	"github.com/go-ctap/pivman/pkg/pivtest"
)

const testPIN = "123456"

func newDerivedToken(pin string) (*pivtest.Token, []byte, []byte) {
	salt := bytes.Repeat([]byte{0x11}, pivman.SaltSize)
	key := pivman.DeriveManagementKey(pin, salt)

	tok := pivtest.New()
	tok.SeedCredentials(pin, "", key)
	tok.SeedObject(piv.ObjectIDAdminData, (&pivman.Metadata{Salt: mo.Some(salt)}).Bytes())
	return tok, key, salt
}

func newStoredToken(pin string) (*pivtest.Token, []byte) {
	key := bytes.Repeat([]byte{0xB4}, piv.ManagementKeySize)

	meta := &pivman.Metadata{}
	meta.SetStoredKey(true)

	tok := pivtest.New()
	tok.SeedCredentials(pin, "", key)
	tok.SeedObject(piv.ObjectIDAdminData, meta.Bytes())
	tok.SeedObject(piv.ObjectIDProtectedData, (&pivman.ProtectedData{Key: mo.Some(key)}).Bytes())
	return tok, key
}

func TestSetManagementKey(t *testing.T) {
	tok := pivtest.New()
	require.NoError(t, tok.Authenticate(context.Background(), piv.DefaultManagementKey()))

	cl := pivman.NewClient()
	newKey := bytes.Repeat([]byte{0xC3}, piv.ManagementKeySize)
	require.NoError(t, cl.SetManagementKey(tok, newKey, pivman.KeyOptions{}))

	assert.Equal(t, newKey, tok.ManagementKey())

	meta, err := cl.ReadMetadata(tok)
	require.NoError(t, err)
	assert.False(t, meta.HasStoredKey())
	assert.False(t, meta.HasDerivedKey())
}

func TestSetManagementKeyRejectsWrongSize(t *testing.T) {
	cl := pivman.NewClient()
	err := cl.SetManagementKey(pivtest.New(), []byte{0x01, 0x02}, pivman.KeyOptions{})
	assert.ErrorIs(t, err, piv.ErrKeySize)
}

func TestSetManagementKeyClearsDerivedSalt(t *testing.T) {
	tok, key, _ := newDerivedToken(testPIN)
	require.NoError(t, tok.Authenticate(context.Background(), key))

	cl := pivman.NewClient()
	newKey := bytes.Repeat([]byte{0xC3}, piv.ManagementKeySize)
	require.NoError(t, cl.SetManagementKey(tok, newKey, pivman.KeyOptions{}))

	meta, err := cl.ReadMetadata(tok)
	require.NoError(t, err)
	assert.False(t, meta.HasDerivedKey(), "salt of the retired derived key must be gone")
	assert.False(t, meta.HasProtectedKey())
}

func TestSetManagementKeyStoreOnDevice(t *testing.T) {
	tok := pivtest.New()
	require.NoError(t, tok.VerifyPIN(testPIN))
	require.NoError(t, tok.Authenticate(context.Background(), piv.DefaultManagementKey()))

	cl := pivman.NewClient()
	newKey := bytes.Repeat([]byte{0xD9}, piv.ManagementKeySize)
	require.NoError(t, cl.SetManagementKey(tok, newKey, pivman.KeyOptions{StoreOnDevice: true}))

	meta, err := cl.ReadMetadata(tok)
	require.NoError(t, err)
	assert.True(t, meta.HasStoredKey())

	protected, err := cl.ReadProtectedData(tok)
	require.NoError(t, err)
	assert.Equal(t, newKey, protected.Key.MustGet())
}

func TestSetManagementKeyStoreNeedsPIN(t *testing.T) {
	tok := pivtest.New()
	require.NoError(t, tok.Authenticate(context.Background(), piv.DefaultManagementKey()))

	cl := pivman.NewClient()
	newKey := bytes.Repeat([]byte{0xD9}, piv.ManagementKeySize)
	err := cl.SetManagementKey(tok, newKey, pivman.KeyOptions{StoreOnDevice: true})
	assert.ErrorIs(t, err, piv.ErrSecurityStatus)
}

func TestSetManagementKeyRefusesToOrphanStoredKey(t *testing.T) {
	tok, key := newStoredToken(testPIN)
	require.NoError(t, tok.Authenticate(context.Background(), key))

	cl := pivman.NewClient()
	newKey := bytes.Repeat([]byte{0xC3}, piv.ManagementKeySize)
	err := cl.SetManagementKey(tok, newKey, pivman.KeyOptions{})
	assert.ErrorIs(t, err, pivman.ErrStoredKeyOrphaned)

	// Aborted before touching the key.
	assert.Equal(t, key, tok.ManagementKey())
}

func TestSetManagementKeyOrphanOptIn(t *testing.T) {
	tok, key := newStoredToken(testPIN)
	require.NoError(t, tok.Authenticate(context.Background(), key))

	cl := pivman.NewClient()
	newKey := bytes.Repeat([]byte{0xC3}, piv.ManagementKeySize)
	require.NoError(t, cl.SetManagementKey(tok, newKey, pivman.KeyOptions{AllowOrphaned: true}))

	assert.Equal(t, newKey, tok.ManagementKey())

	meta, err := cl.ReadMetadata(tok)
	require.NoError(t, err)
	assert.False(t, meta.HasStoredKey(), "flag must not claim a stored key anymore")

	// The old key really is orphaned: still sitting in protected data.
	require.NoError(t, tok.VerifyPIN(testPIN))
	protected, err := cl.ReadProtectedData(tok)
	require.NoError(t, err)
	assert.Equal(t, key, protected.Key.MustGet())
}

func TestSetManagementKeyClearsStoredKeyWithPIN(t *testing.T) {
	tok, key := newStoredToken(testPIN)
	require.NoError(t, tok.VerifyPIN(testPIN))
	require.NoError(t, tok.Authenticate(context.Background(), key))

	cl := pivman.NewClient()
	newKey := bytes.Repeat([]byte{0xC3}, piv.ManagementKeySize)
	require.NoError(t, cl.SetManagementKey(tok, newKey, pivman.KeyOptions{}))

	meta, err := cl.ReadMetadata(tok)
	require.NoError(t, err)
	assert.False(t, meta.HasStoredKey())

	protected, err := cl.ReadProtectedData(tok)
	require.NoError(t, err)
	assert.True(t, protected.Key.IsAbsent(), "stored key must be wiped")
}

func TestChangePINRotatesDerivedKey(t *testing.T) {
	tok, _, oldSalt := newDerivedToken(testPIN)
	const newPIN = "765432"

	cl := pivman.NewClient()
	require.NoError(t, cl.ChangePIN(context.Background(), tok, testPIN, newPIN))

	assert.Equal(t, newPIN, tok.PIN())

	meta, err := cl.ReadMetadata(tok)
	require.NoError(t, err)
	require.True(t, meta.HasDerivedKey())
	newSalt := meta.Salt.MustGet()
	assert.NotEqual(t, oldSalt, newSalt)

	// The stored salt and the new PIN must still derive the live key.
	assert.Equal(t, pivman.DeriveManagementKey(newPIN, newSalt), tok.ManagementKey())
}

func TestChangePINWithoutDerivedKey(t *testing.T) {
	tok := pivtest.New()

	cl := pivman.NewClient()
	require.NoError(t, cl.ChangePIN(context.Background(), tok, piv.DefaultPIN, "765432"))

	assert.Equal(t, "765432", tok.PIN())
	assert.Equal(t, []string{"ChangePIN", "GetObject"}, tok.Ops())
}

func TestChangePINWrongCurrent(t *testing.T) {
	tok, _, _ := newDerivedToken(testPIN)

	cl := pivman.NewClient()
	err := cl.ChangePIN(context.Background(), tok, "999999", "765432")

	var authErr *piv.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, piv.CredentialPIN, authErr.Kind)
	assert.Equal(t, pivtest.DefaultAttempts-1, authErr.Retries)
	assert.Equal(t, testPIN, tok.PIN())
}

func TestChangePUKRecordsBlocked(t *testing.T) {
	tok := pivtest.New()
	tok.SeedAttempts(pivtest.DefaultAttempts, 1)
	require.NoError(t, tok.Authenticate(context.Background(), piv.DefaultManagementKey()))

	cl := pivman.NewClient()
	err := cl.ChangePUK(tok, "999999", "888888")

	var authErr *piv.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, piv.CredentialPUK, authErr.Kind)
	assert.True(t, authErr.Blocked())

	meta, readErr := cl.ReadMetadata(tok)
	require.NoError(t, readErr)
	assert.True(t, meta.PUKBlocked())
}

func TestUnblockPIN(t *testing.T) {
	tok := pivtest.New()
	tok.SeedAttempts(0, pivtest.DefaultAttempts)

	cl := pivman.NewClient()
	require.NoError(t, cl.UnblockPIN(tok, piv.DefaultPUK, "765432"))

	assert.NoError(t, tok.VerifyPIN("765432"))
}

func TestSetPINAttemptsResetsAndClearsPUKFlag(t *testing.T) {
	tok := pivtest.New()
	meta := &pivman.Metadata{}
	meta.SetPUKBlocked(true)
	tok.SeedObject(piv.ObjectIDAdminData, meta.Bytes())

	require.NoError(t, tok.VerifyPIN(piv.DefaultPIN))
	require.NoError(t, tok.Authenticate(context.Background(), piv.DefaultManagementKey()))

	cl := pivman.NewClient()
	require.NoError(t, cl.SetPINAttempts(tok, 5, 4))

	after, err := cl.ReadMetadata(tok)
	require.NoError(t, err)
	assert.False(t, after.PUKBlocked())

	// New budget in force: one failure leaves four attempts.
	err = tok.VerifyPIN("999999")
	var authErr *piv.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 4, authErr.Retries)
}

func TestResetBurnsRemainingAttempts(t *testing.T) {
	tok := pivtest.New()
	tok.SeedCredentials("765432", "87654321", bytes.Repeat([]byte{0xEE}, piv.ManagementKeySize))

	cl := pivman.NewClient()
	require.NoError(t, cl.Reset(tok))

	// Factory state again.
	assert.NoError(t, tok.VerifyPIN(piv.DefaultPIN))
	assert.Equal(t, piv.DefaultManagementKey(), tok.ManagementKey())
}
