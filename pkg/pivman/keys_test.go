package pivman

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ctap/pivman/pkg/piv"
)

func TestDeriveManagementKey(t *testing.T) {
	salt := bytes.Repeat([]byte{0x11}, SaltSize)

	key := DeriveManagementKey("123456", salt)
	assert.Len(t, key, piv.ManagementKeySize)

	// Deterministic: tokens in the field depend on it.
	assert.Equal(t, key, DeriveManagementKey("123456", salt))

	otherSalt := bytes.Repeat([]byte{0x22}, SaltSize)
	assert.NotEqual(t, key, DeriveManagementKey("123456", otherSalt))
	assert.NotEqual(t, key, DeriveManagementKey("654321", salt))
}

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)

	again, err := GenerateSalt()
	require.NoError(t, err)
	assert.NotEqual(t, salt, again)
}

func TestGenerateManagementKey(t *testing.T) {
	key, err := GenerateManagementKey()
	require.NoError(t, err)
	assert.Len(t, key, piv.ManagementKeySize)
	assert.NotEqual(t, piv.DefaultManagementKey(), key)
}

func TestParseManagementKey(t *testing.T) {
	key, err := ParseManagementKey("010203040506070801020304050607080102030405060708")
	require.NoError(t, err)
	assert.Equal(t, piv.DefaultManagementKey(), key)

	_, err = ParseManagementKey("0102")
	assert.ErrorIs(t, err, piv.ErrKeySize)

	_, err = ParseManagementKey("not hex at all")
	assert.ErrorIs(t, err, ErrKeyFormat)
}

func TestGenerateCHUID(t *testing.T) {
	chuid := GenerateCHUID()

	// FASC-N TLV leads, GUID TLV follows it.
	assert.Equal(t, []byte{0x30, 0x19}, chuid[:2])
	assert.Equal(t, byte(0x34), chuid[2+len(fascN)])
	assert.Equal(t, byte(0x10), chuid[2+len(fascN)+1])

	// GUIDs differ between cards.
	assert.NotEqual(t, chuid, GenerateCHUID())
}

func TestGenerateCCC(t *testing.T) {
	ccc, err := GenerateCCC()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xF0, 0x15, 0xA0, 0x00, 0x00, 0x01, 0x16, 0xFF, 0x02}, ccc[:9])

	again, err := GenerateCCC()
	require.NoError(t, err)
	assert.NotEqual(t, ccc, again)
}
