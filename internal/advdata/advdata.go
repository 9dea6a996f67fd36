// Package advdata parses and builds BLE advertising data: a sequence of AD
// structures, each framed as one length byte, one type byte and length-1
// value bytes.
package advdata

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxLen is the legacy advertising payload limit.
const MaxLen = 31

// AD types used by the central.
const (
	TypeFlags              byte = 0x01
	TypeService16More      byte = 0x02
	TypeService16Complete  byte = 0x03
	TypeService128More     byte = 0x06
	TypeService128Complete byte = 0x07
	TypeShortName          byte = 0x08
	TypeCompleteName       byte = 0x09
	TypeTxPower            byte = 0x0A
)

var (
	ErrNotFound  = errors.New("advdata: field not found")
	ErrMalformed = errors.New("advdata: malformed AD structure")
	ErrTooLong   = errors.New("advdata: payload exceeds 31 bytes")
)

// Field locates the value of one AD structure inside the buffer it was
// parsed from.
type Field struct {
	Type   byte
	Offset int // index of the first value byte
	Len    int // value length (AD length byte minus the type byte)
}

// Value returns the field's value bytes within data.
func (f Field) Value(data []byte) []byte {
	return data[f.Offset : f.Offset+f.Len]
}

// Find returns the first AD structure of type typ. A zero length byte or a
// structure running past the end of data yields ErrMalformed.
func Find(data []byte, typ byte) (Field, error) {
	if len(data) > MaxLen {
		return Field{}, ErrTooLong
	}
	for i := 0; i < len(data); {
		length := int(data[i])
		if length == 0 {
			return Field{}, fmt.Errorf("%w: zero length at offset %d", ErrMalformed, i)
		}
		if i+1+length > len(data) {
			return Field{}, fmt.Errorf("%w: length %d at offset %d overruns %d bytes", ErrMalformed, length, i, len(data))
		}
		if data[i+1] == typ {
			return Field{Type: typ, Offset: i + 2, Len: length - 1}, nil
		}
		i += 1 + length
	}
	return Field{}, ErrNotFound
}

// Fields returns every AD structure in data, stopping at the first framing
// error.
func Fields(data []byte) ([]Field, error) {
	if len(data) > MaxLen {
		return nil, ErrTooLong
	}
	var fields []Field
	for i := 0; i < len(data); {
		length := int(data[i])
		if length == 0 || i+1+length > len(data) {
			return fields, fmt.Errorf("%w: bad length %d at offset %d", ErrMalformed, length, i)
		}
		fields = append(fields, Field{Type: data[i+1], Offset: i + 2, Len: length - 1})
		i += 1 + length
	}
	return fields, nil
}

// FindService128 looks for the "128-bit service UUIDs, more available"
// field and falls back to the "complete" list only when the former is absent.
func FindService128(data []byte) (Field, error) {
	f, err := Find(data, TypeService128More)
	if errors.Is(err, ErrNotFound) {
		return Find(data, TypeService128Complete)
	}
	return f, err
}

// MatchService128 reports the 128-bit service UUID field of data if it lists
// target. It returns ErrNotFound when the field is absent or does not carry
// target.
func MatchService128(data []byte, target UUID) (Field, error) {
	f, err := FindService128(data)
	if err != nil {
		return Field{}, err
	}
	value := f.Value(data)
	for j := 0; j+16 <= len(value); j += 16 {
		if bytes.Equal(value[j:j+16], target[:]) {
			return f, nil
		}
	}
	return Field{}, ErrNotFound
}

// LocalName returns the complete local name, or the shortened one.
func LocalName(data []byte) string {
	if f, err := Find(data, TypeCompleteName); err == nil {
		return string(f.Value(data))
	}
	if f, err := Find(data, TypeShortName); err == nil {
		return string(f.Value(data))
	}
	return ""
}

// UUID is a 128-bit UUID in the little-endian byte order used on air.
type UUID [16]byte

// ParseUUID parses the canonical string form
// (6e400001-b5a3-f393-e0a9-e50e24dcca9e).
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("advdata: parse uuid %q: %w", s, err)
	}
	var out UUID
	for i := range u {
		out[15-i] = u[i]
	}
	return out, nil
}

// MustParseUUID is ParseUUID for constants.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the canonical string form.
func (u UUID) String() string {
	var be uuid.UUID
	for i := range u {
		be[15-i] = u[i]
	}
	return be.String()
}
