// Package tlv implements the subset of BER-TLV used by the PIV admin
// application: one to three byte tags and definite lengths up to 64 KiB.
package tlv

import (
	"encoding/binary"
	"errors"
)

var (
	ErrTruncated        = errors.New("tlv: truncated structure")
	ErrIndefiniteLength = errors.New("tlv: indefinite lengths are not supported")
	ErrLengthTooLarge   = errors.New("tlv: length over 16 bits")
	ErrTagTooLong       = errors.New("tlv: tag over three bytes")
	ErrInvalidTag       = errors.New("tlv: invalid tag encoding")
)

// Put encodes a single TLV. Tags up to 0xFF take one byte, up to 0xFFFF two,
// otherwise three, and must be well formed BER: multibyte tags carry the
// 0x1F marker and continuation bits, one-byte tags must not. Put panics
// with ErrInvalidTag or ErrTagTooLong on a tag that cannot round-trip
// through Parse. A nil or empty value encodes as a zero-length TLV.
func Put(tag uint32, value []byte) []byte {
	buf := make([]byte, 0, 5+len(value))

	switch {
	case tag <= 0xFF:
		if tag&0x1F == 0x1F {
			panic(ErrInvalidTag)
		}
		buf = append(buf, byte(tag))
	case tag <= 0xFFFF:
		if (tag>>8)&0x1F != 0x1F || tag&0x80 != 0 {
			panic(ErrInvalidTag)
		}
		buf = append(buf, byte(tag>>8), byte(tag))
	case tag <= 0xFFFFFF:
		if (tag>>16)&0x1F != 0x1F || (tag>>8)&0x80 == 0 || tag&0x80 != 0 {
			panic(ErrInvalidTag)
		}
		buf = append(buf, byte(tag>>16), byte(tag>>8), byte(tag))
	default:
		panic(ErrTagTooLong)
	}

	switch l := len(value); {
	case l < 0x80:
		buf = append(buf, byte(l))
	case l <= 0xFF:
		buf = append(buf, 0x81, byte(l))
	case l <= 0xFFFF:
		lenBytes := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBytes, uint16(l))
		buf = append(buf, 0x82)
		buf = append(buf, lenBytes...)
	default:
		// Callers never produce objects this large; fail loudly if one does.
		panic(ErrLengthTooLarge)
	}

	return append(buf, value...)
}

// Parse reads the first TLV from buf and returns its tag, value and the
// remaining bytes.
func Parse(buf []byte) (tag uint32, value []byte, rest []byte, err error) {
	if len(buf) == 0 {
		return 0, nil, nil, ErrTruncated
	}

	tag = uint32(buf[0])
	buf = buf[1:]

	// Multibyte tag: low five bits all set, subsequent bytes carry a
	// continuation bit.
	if tag&0x1F == 0x1F {
		for {
			if len(buf) == 0 {
				return 0, nil, nil, ErrTruncated
			}
			b := buf[0]
			buf = buf[1:]
			tag = tag<<8 | uint32(b)
			if b&0x80 == 0 {
				break
			}
			if tag > 0xFFFF {
				return 0, nil, nil, ErrTagTooLong
			}
		}
	}

	if len(buf) == 0 {
		return 0, nil, nil, ErrTruncated
	}

	var length int
	switch b := buf[0]; {
	case b < 0x80:
		length = int(b)
		buf = buf[1:]
	case b == 0x80:
		return 0, nil, nil, ErrIndefiniteLength
	case b == 0x81:
		if len(buf) < 2 {
			return 0, nil, nil, ErrTruncated
		}
		length = int(buf[1])
		buf = buf[2:]
	case b == 0x82:
		if len(buf) < 3 {
			return 0, nil, nil, ErrTruncated
		}
		length = int(binary.BigEndian.Uint16(buf[1:3]))
		buf = buf[3:]
	default:
		return 0, nil, nil, ErrLengthTooLarge
	}

	if len(buf) < length {
		return 0, nil, nil, ErrTruncated
	}

	return tag, buf[:length], buf[length:], nil
}

// Decode parses a run of TLVs into a tag-to-value map. A tag occurring twice
// keeps the last value.
func Decode(buf []byte) (map[uint32][]byte, error) {
	values := make(map[uint32][]byte)
	for len(buf) > 0 {
		tag, value, rest, err := Parse(buf)
		if err != nil {
			return nil, err
		}
		values[tag] = value
		buf = rest
	}

	return values, nil
}

// Unwrap parses a single TLV and checks its tag, returning just the value.
// Trailing bytes after the TLV are rejected.
func Unwrap(tag uint32, buf []byte) ([]byte, error) {
	gotTag, value, rest, err := Parse(buf)
	if err != nil {
		return nil, err
	}
	if gotTag != tag {
		return nil, errors.New("tlv: unexpected tag")
	}
	if len(rest) != 0 {
		return nil, errors.New("tlv: trailing bytes")
	}

	return value, nil
}
