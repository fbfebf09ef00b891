package pivman

import (
	"crypto/rand"
	"slices"

	"github.com/google/uuid"

	"github.com/go-ctap/pivman/pkg/tlv"
)

// Non-Federal Issuer FASC-N, the placeholder agency code self-issued cards
// carry.
var fascN = []byte{
	0xD4, 0xE7, 0x39, 0xDA, 0x73, 0x9C, 0xED, 0x39,
	0xCE, 0x73, 0x9D, 0x83, 0x68, 0x58, 0x21, 0x08,
	0x42, 0x10, 0x84, 0x21, 0xC8, 0x42, 0x10, 0xC3,
	0xEB,
}

// GenerateCHUID builds a card holder unique identifier with a random GUID,
// suitable for PutObject to ObjectIDCHUID.
func GenerateCHUID() []byte {
	guid := uuid.New()

	return slices.Concat(
		tlv.Put(0x30, fascN),
		tlv.Put(0x34, guid[:]),
		tlv.Put(0x35, []byte("20300101")), // expiry
		tlv.Put(0x3E, nil),                // signature
		tlv.Put(0xFE, nil),                // LRC
	)
}

// GenerateCCC builds a card capability container with a random card
// identifier, suitable for PutObject to ObjectIDCapability.
func GenerateCCC() ([]byte, error) {
	ident := make([]byte, 14)
	if _, err := rand.Read(ident); err != nil {
		return nil, err
	}

	return slices.Concat(
		tlv.Put(0xF0, slices.Concat( // card identifier
			[]byte{0xA0, 0x00, 0x00, 0x01, 0x16, 0xFF, 0x02}, ident)),
		tlv.Put(0xF1, []byte{0x21}), // container version
		tlv.Put(0xF2, []byte{0x21}), // grammar version
		tlv.Put(0xF3, nil),          // applications CardURL
		tlv.Put(0xF4, []byte{0x00}), // PKCS#15
		tlv.Put(0xF5, []byte{0x10}), // registered data model
		tlv.Put(0xF6, nil),          // access control rule table
		tlv.Put(0xF7, nil),          // card APDUs
		tlv.Put(0xFA, nil),          // redirection tag
		tlv.Put(0xFB, nil),          // capability tuples
		tlv.Put(0xFC, nil),          // status tuples
		tlv.Put(0xFD, nil),          // next CCC
		tlv.Put(0xFE, nil),          // LRC
	), nil
}
