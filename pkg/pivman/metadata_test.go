package pivman

import (
	"bytes"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadataEmpty(t *testing.T) {
	for _, raw := range [][]byte{nil, {}} {
		m, err := ParseMetadata(raw)
		require.NoError(t, err)
		assert.False(t, m.HasDerivedKey())
		assert.False(t, m.HasStoredKey())
		assert.False(t, m.HasProtectedKey())
		assert.True(t, m.Flags.IsAbsent())
	}
}

func TestParseMetadataStoredKeyFixture(t *testing.T) {
	m, err := ParseMetadata([]byte{0x80, 0x03, 0x81, 0x01, 0x02})
	require.NoError(t, err)
	assert.True(t, m.HasStoredKey())
	assert.False(t, m.HasDerivedKey())
	assert.True(t, m.HasProtectedKey())
	assert.False(t, m.PUKBlocked())
}

func TestMetadataDerivedRoundtrip(t *testing.T) {
	salt := bytes.Repeat([]byte{0x5A}, SaltSize)
	m := &Metadata{Salt: mo.Some(salt)}

	parsed, err := ParseMetadata(m.Bytes())
	require.NoError(t, err)
	assert.True(t, parsed.HasDerivedKey())
	assert.False(t, parsed.HasStoredKey())
	assert.Equal(t, salt, parsed.Salt.MustGet())

	// No flags byte was ever written, and none appears after a roundtrip.
	assert.True(t, parsed.Flags.IsAbsent())
}

func TestMetadataZeroFlagsSurviveRoundtrip(t *testing.T) {
	// A zero flags byte is a real state, distinct from no flags byte at
	// all: it means flags were written once and all later cleared.
	m := &Metadata{Flags: mo.Some(byte(0))}

	parsed, err := ParseMetadata(m.Bytes())
	require.NoError(t, err)
	assert.True(t, parsed.Flags.IsPresent())
	assert.Equal(t, byte(0), parsed.Flags.MustGet())
}

func TestMetadataFlagAccessors(t *testing.T) {
	m := &Metadata{}

	m.SetStoredKey(true)
	assert.True(t, m.HasStoredKey())
	assert.False(t, m.PUKBlocked())

	m.SetPUKBlocked(true)
	assert.True(t, m.HasStoredKey())
	assert.True(t, m.PUKBlocked())

	m.SetStoredKey(false)
	assert.False(t, m.HasStoredKey())
	assert.True(t, m.PUKBlocked())
	assert.Equal(t, byte(0x01), m.Flags.MustGet())
}

func TestMetadataTimestamp(t *testing.T) {
	m := &Metadata{PINTimestamp: mo.Some(uint32(0x01020304))}

	raw := m.Bytes()
	assert.Equal(t, []byte{0x80, 0x06, 0x83, 0x04, 0x01, 0x02, 0x03, 0x04}, raw)

	parsed, err := ParseMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), parsed.PINTimestamp.MustGet())
}

func TestParseMetadataRejectsForeignTag(t *testing.T) {
	_, err := ParseMetadata([]byte{0x88, 0x00})
	require.Error(t, err)
}

func TestProtectedDataRoundtrip(t *testing.T) {
	key := bytes.Repeat([]byte{0xA7}, 24)
	p := &ProtectedData{Key: mo.Some(key)}

	raw := p.Bytes()
	assert.Equal(t, []byte{0x88, 0x1A, 0x89, 0x18}, raw[:4])

	parsed, err := ParseProtectedData(raw)
	require.NoError(t, err)
	assert.Equal(t, key, parsed.Key.MustGet())
}

func TestProtectedDataCleared(t *testing.T) {
	p := &ProtectedData{}
	assert.Equal(t, []byte{0x88, 0x00}, p.Bytes())

	parsed, err := ParseProtectedData(p.Bytes())
	require.NoError(t, err)
	assert.True(t, parsed.Key.IsAbsent())
}
