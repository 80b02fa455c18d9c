package wal

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// IDKind discriminates the encodings of an entity identifier.
type IDKind uint8

const (
	// kindLegacyInt is a fixed 8-byte big-endian integer. Only Migrate
	// reads it.
	kindLegacyInt IDKind = 0x00
	// KindInt is a signed integer stored as a zig-zag varint.
	KindInt IDKind = 0x01
	// KindString is a UTF-8 string.
	KindString IDKind = 0x02
)

func (k IDKind) String() string {
	switch k {
	case kindLegacyInt:
		return "legacy-int"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ID identifies a value within an entity. The zero ID is invalid.
type ID struct {
	kind IDKind
	n    int64
	s    string
}

// IntID returns an integer identifier.
func IntID(n int64) ID { return ID{kind: KindInt, n: n} }

// StringID returns a string identifier.
func StringID(s string) ID { return ID{kind: KindString, s: s} }

// Kind returns the id kind.
func (id ID) Kind() IDKind { return id.kind }

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool { return id.kind == 0 }

// Int returns the integer value of an integer id.
func (id ID) Int() (int64, bool) { return id.n, id.kind == KindInt }

// Str returns the string value of a string id.
func (id ID) Str() (string, bool) { return id.s, id.kind == KindString }

// Equal reports whether both ids have the same kind and value.
func (id ID) Equal(other ID) bool { return id == other }

func (id ID) String() string {
	if id.kind == KindString {
		return id.s
	}
	return strconv.FormatInt(id.n, 10)
}

// AppendKey appends the canonical tagged encoding of id (kind byte and
// value) to dst. Two ids have the same key iff they are Equal.
func (id ID) AppendKey(dst []byte) []byte {
	dst = append(dst, byte(id.kind))
	if id.kind == KindString {
		return append(dst, id.s...)
	}
	return binary.AppendVarint(dst, id.n)
}

// Key returns the canonical tagged encoding of id.
func (id ID) Key() []byte { return id.AppendKey(nil) }

// ParseKey decodes a key produced by AppendKey.
func ParseKey(b []byte) (ID, error) {
	id, legacy, err := decodeIDBody(b, false)
	if err != nil {
		return ID{}, err
	}
	if legacy {
		return ID{}, ErrLegacyRecord
	}
	return id, nil
}
