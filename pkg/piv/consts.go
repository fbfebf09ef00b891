//go:generate stringer -type=CredentialKind -trimprefix=Credential -output=credentialkind_string.go
//go:generate stringer -type=ObjectID -trimprefix=ObjectID -output=objectid_string.go
package piv

// CredentialKind names the retry-counted credentials.
type CredentialKind byte

const (
	CredentialPIN CredentialKind = iota
	CredentialPUK
)

// ObjectID identifies a data object on the token. Values are the BER tag
// numbers the application uses on the wire.
type ObjectID uint32

const (
	ObjectIDCardAuthentication ObjectID = 0x5FC101
	ObjectIDCHUID              ObjectID = 0x5FC102
	ObjectIDFingerprints       ObjectID = 0x5FC103
	ObjectIDAuthentication     ObjectID = 0x5FC105
	ObjectIDSecurity           ObjectID = 0x5FC106
	ObjectIDCapability         ObjectID = 0x5FC107
	ObjectIDFacial             ObjectID = 0x5FC108
	ObjectIDPrinted            ObjectID = 0x5FC109
	ObjectIDSignature          ObjectID = 0x5FC10A
	ObjectIDKeyManagement      ObjectID = 0x5FC10B
	ObjectIDKeyHistory         ObjectID = 0x5FC10C
	ObjectIDIris               ObjectID = 0x5FC121
	ObjectIDDiscovery          ObjectID = 0x7E

	// ObjectIDAdminData is the vendor object holding the admin tool's
	// protection metadata.
	ObjectIDAdminData ObjectID = 0x5FFF00

	// ObjectIDProtectedData aliases the printed-information object, which
	// the token gates behind the PIN and the admin tool therefore uses to
	// store the protected management key.
	ObjectIDProtectedData = ObjectIDPrinted
)

// PINGated reports whether reading the object requires prior PIN
// verification.
func (id ObjectID) PINGated() bool {
	switch id {
	case ObjectIDPrinted, ObjectIDFingerprints, ObjectIDFacial, ObjectIDIris:
		return true
	}
	return false
}

// ManagementKeySize is the length of the triple-DES management key.
const ManagementKeySize = 24

// Factory credentials, as shipped.
const (
	DefaultPIN = "123456"
	DefaultPUK = "12345678"
)

// DefaultManagementKey returns the well-known factory management key.
func DefaultManagementKey() []byte {
	return []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	}
}
