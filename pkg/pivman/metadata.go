package pivman

import (
	"encoding/binary"

	"github.com/samber/mo"

	"github.com/go-ctap/pivman/pkg/tlv"
)

const (
	tagAdminData    = 0x80
	tagFlags        = 0x81
	tagSalt         = 0x82
	tagPINTimestamp = 0x83

	tagProtectedData = 0x88
	tagProtectedKey  = 0x89
)

const (
	flagPUKBlocked byte = 0x01
	flagStoredKey  byte = 0x02
)

// Metadata is the admin tool's record on the token, object 0x5FFF00. Every
// field is optional on the wire; an absent flags byte and a flags byte of
// zero are distinct states, which is why fields are mo.Option and not zero
// values.
type Metadata struct {
	Flags        mo.Option[byte]
	Salt         mo.Option[[]byte]
	PINTimestamp mo.Option[uint32]
}

// ParseMetadata decodes a metadata record. An empty input yields an empty
// record, matching a token the admin tool has never touched.
func ParseMetadata(raw []byte) (*Metadata, error) {
	m := &Metadata{}
	if len(raw) == 0 {
		return m, nil
	}

	inner, err := tlv.Unwrap(tagAdminData, raw)
	if err != nil {
		return nil, err
	}
	values, err := tlv.Decode(inner)
	if err != nil {
		return nil, err
	}

	if flags, ok := values[tagFlags]; ok && len(flags) == 1 {
		m.Flags = mo.Some(flags[0])
	}
	if salt, ok := values[tagSalt]; ok {
		m.Salt = mo.Some(salt)
	}
	if ts, ok := values[tagPINTimestamp]; ok && len(ts) == 4 {
		m.PINTimestamp = mo.Some(binary.BigEndian.Uint32(ts))
	}

	return m, nil
}

// Bytes encodes the record for PutObject. Absent fields encode no TLV at
// all.
func (m *Metadata) Bytes() []byte {
	var inner []byte
	if flags, ok := m.Flags.Get(); ok {
		inner = append(inner, tlv.Put(tagFlags, []byte{flags})...)
	}
	if salt, ok := m.Salt.Get(); ok {
		inner = append(inner, tlv.Put(tagSalt, salt)...)
	}
	if ts, ok := m.PINTimestamp.Get(); ok {
		tsBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(tsBytes, ts)
		inner = append(inner, tlv.Put(tagPINTimestamp, tsBytes)...)
	}

	return tlv.Put(tagAdminData, inner)
}

// HasDerivedKey reports whether the management key is derived from the PIN
// and the stored salt.
func (m *Metadata) HasDerivedKey() bool {
	return m.Salt.IsPresent()
}

// HasStoredKey reports whether the management key is stored on the token
// behind the PIN.
func (m *Metadata) HasStoredKey() bool {
	flags, _ := m.Flags.Get()
	return flags&flagStoredKey != 0
}

// HasProtectedKey reports whether the PIN unlocks the management key by
// either scheme.
func (m *Metadata) HasProtectedKey() bool {
	return m.HasDerivedKey() || m.HasStoredKey()
}

func (m *Metadata) PUKBlocked() bool {
	flags, _ := m.Flags.Get()
	return flags&flagPUKBlocked != 0
}

func (m *Metadata) SetPUKBlocked(blocked bool) {
	m.setFlag(flagPUKBlocked, blocked)
}

func (m *Metadata) SetStoredKey(stored bool) {
	m.setFlag(flagStoredKey, stored)
}

func (m *Metadata) setFlag(flag byte, on bool) {
	flags, _ := m.Flags.Get()
	if on {
		flags |= flag
	} else {
		flags &^= flag
	}
	m.Flags = mo.Some(flags)
}

// ProtectedData is the admin tool's record inside the PIN-gated
// printed-information object: the stored management key, when one exists.
type ProtectedData struct {
	Key mo.Option[[]byte]
}

func ParseProtectedData(raw []byte) (*ProtectedData, error) {
	p := &ProtectedData{}
	if len(raw) == 0 {
		return p, nil
	}

	inner, err := tlv.Unwrap(tagProtectedData, raw)
	if err != nil {
		return nil, err
	}
	values, err := tlv.Decode(inner)
	if err != nil {
		return nil, err
	}

	if key, ok := values[tagProtectedKey]; ok {
		p.Key = mo.Some(key)
	}

	return p, nil
}

func (p *ProtectedData) Bytes() []byte {
	var inner []byte
	if key, ok := p.Key.Get(); ok {
		inner = append(inner, tlv.Put(tagProtectedKey, key)...)
	}

	return tlv.Put(tagProtectedData, inner)
}
