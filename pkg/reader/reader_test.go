package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	infos := []Info{
		{Name: "Yubico YubiKey OTP+FIDO+CCID 00 00", Present: true},
		{Name: "Generic Smart Card Reader Interface 01 00"},
	}

	picked, err := Find(infos, "")
	require.NoError(t, err)
	assert.Equal(t, infos[0], picked)

	picked, err = Find(infos, "1")
	require.NoError(t, err)
	assert.Equal(t, infos[1], picked)

	picked, err = Find(infos, "yubikey")
	require.NoError(t, err)
	assert.Equal(t, infos[0], picked)

	_, err = Find(infos, "5")
	assert.ErrorIs(t, err, ErrNoReader)

	_, err = Find(infos, "nonexistent")
	assert.ErrorIs(t, err, ErrNoReader)

	_, err = Find(nil, "")
	assert.ErrorIs(t, err, ErrNoReader)
}
