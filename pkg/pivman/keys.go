package pivman

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/pbkdf2"

	"github.com/go-ctap/pivman/pkg/piv"
)

// SaltSize is the length of the salt stored alongside a derived key.
const SaltSize = 16

const deriveIterations = 10000

var ErrKeyFormat = errors.New("pivman: management key must be 48 hex characters")

// DeriveManagementKey computes the management key for a PIN-protected token:
// PBKDF2-HMAC-SHA1 over the UTF-8 PIN with the salt from the metadata
// record, 10000 rounds, 24 bytes out. The parameters are fixed by the
// records already in the field; changing any of them orphans every deployed
// token.
func DeriveManagementKey(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, deriveIterations, piv.ManagementKeySize, sha1.New)
}

// GenerateSalt returns a fresh random salt for a newly derived key.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// GenerateManagementKey returns a fresh random 24-byte management key.
func GenerateManagementKey() ([]byte, error) {
	key := make([]byte, piv.ManagementKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ParseManagementKey decodes an operator-supplied hex management key.
func ParseManagementKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrKeyFormat
	}
	if len(key) != piv.ManagementKeySize {
		return nil, piv.ErrKeySize
	}
	return key, nil
}
