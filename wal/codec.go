package wal

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// maxIDBody bounds the tagged id length (kind byte included). The encoder
// and the decoder enforce the same limit.
const maxIDBody = 1 << 16

// Encode returns the wire form of m.
func Encode(m Message) ([]byte, error) {
	return AppendMessage(nil, m)
}

// AppendMessage appends the wire form of m to dst.
func AppendMessage(dst []byte, m Message) ([]byte, error) {
	dst = append(dst, byte(m.Tag()))
	dst = binary.AppendUvarint(dst, m.TxID())

	switch v := m.(type) {
	case StartTransaction, CommitTransaction, RollbackTransaction:
		return dst, nil
	case StoreChunk:
		var err error
		if dst, err = appendTarget(dst, v.Entity, v.ID); err != nil {
			return nil, err
		}
		dst = binary.AppendUvarint(dst, uint64(len(v.Chunk)))
		return append(dst, v.Chunk...), nil
	case Delete:
		return appendTarget(dst, v.Entity, v.ID)
	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrInvalidMessage, m)
	}
}

// CheckTarget reports whether (entity, id) can be encoded. It returns an
// error wrapping ErrInvalidMessage otherwise.
func CheckTarget(entity string, id ID) error {
	_, err := targetKey(entity, id)
	return err
}

func targetKey(entity string, id ID) ([]byte, error) {
	if entity == "" || !utf8.ValidString(entity) {
		return nil, fmt.Errorf("%w: entity name %q", ErrInvalidMessage, entity)
	}
	switch id.kind {
	case KindInt:
	case KindString:
		if !utf8.ValidString(id.s) {
			return nil, fmt.Errorf("%w: id is not valid UTF-8", ErrInvalidMessage)
		}
	default:
		return nil, fmt.Errorf("%w: id kind %s", ErrInvalidMessage, id.kind)
	}
	body := id.Key()
	if len(body) > maxIDBody {
		return nil, fmt.Errorf("%w: id of %d bytes exceeds %d", ErrInvalidMessage, len(body), maxIDBody)
	}
	return body, nil
}

func appendTarget(dst []byte, entity string, id ID) ([]byte, error) {
	body, err := targetKey(entity, id)
	if err != nil {
		return nil, err
	}
	dst = binary.AppendUvarint(dst, uint64(len(entity)))
	dst = append(dst, entity...)
	dst = binary.AppendUvarint(dst, uint64(len(body)))
	return append(dst, body...), nil
}

// Decode parses one record. Chunk bytes of a StoreChunk alias b.
// Records using the legacy id encoding are rejected with ErrLegacyRecord.
func Decode(b []byte) (Message, error) {
	m, legacy, err := decode(b, false)
	if err != nil {
		return nil, err
	}
	if legacy {
		return nil, ErrLegacyRecord
	}
	return m, nil
}

// decode parses one record. With allowLegacy the legacy id encoding is
// accepted and reported through the second result.
func decode(b []byte, allowLegacy bool) (Message, bool, error) {
	d := decoder{buf: b}
	if len(b) == 0 {
		return nil, false, fmt.Errorf("%w: empty record", ErrMalformed)
	}
	tag := Tag(b[0])
	d.off = 1

	tx, err := d.uvarint("tx")
	if err != nil {
		return nil, false, err
	}

	var (
		m      Message
		legacy bool
	)
	switch tag {
	case TagStart:
		m = StartTransaction{Tx: tx}
	case TagCommit:
		m = CommitTransaction{Tx: tx}
	case TagRollback:
		m = RollbackTransaction{Tx: tx}
	case TagStoreChunk, TagDelete:
		entity, err := d.str("entity")
		if err != nil {
			return nil, false, err
		}
		idBody, err := d.bytes("id", maxIDBody)
		if err != nil {
			return nil, false, err
		}
		id, isLegacy, err := decodeIDBody(idBody, allowLegacy)
		if err != nil {
			return nil, false, err
		}
		legacy = isLegacy
		if tag == TagDelete {
			m = Delete{Tx: tx, Entity: entity, ID: id}
			break
		}
		chunk, err := d.bytes("chunk", len(b))
		if err != nil {
			return nil, false, err
		}
		if len(chunk) == 0 {
			chunk = nil
		}
		m = StoreChunk{Tx: tx, Entity: entity, ID: id, Chunk: chunk}
	default:
		return nil, false, fmt.Errorf("%w 0x%02x", ErrUnknownTag, uint8(tag))
	}

	if d.off != len(b) {
		return nil, false, fmt.Errorf("%w: %d trailing bytes after %s", ErrMalformed, len(b)-d.off, tag)
	}
	return m, legacy, nil
}

// decodeIDBody parses kind byte and value. Legacy ids are converted to
// KindInt and reported; without allowLegacy they fail with ErrLegacyRecord.
func decodeIDBody(b []byte, allowLegacy bool) (ID, bool, error) {
	if len(b) == 0 {
		return ID{}, false, fmt.Errorf("%w: empty id", ErrMalformed)
	}
	value := b[1:]
	switch IDKind(b[0]) {
	case KindInt:
		n, k := binary.Varint(value)
		if k <= 0 || k != len(value) {
			return ID{}, false, fmt.Errorf("%w: integer id", ErrMalformed)
		}
		return IntID(n), false, nil
	case KindString:
		if !utf8.Valid(value) {
			return ID{}, false, fmt.Errorf("%w: id is not valid UTF-8", ErrMalformed)
		}
		return StringID(string(value)), false, nil
	case kindLegacyInt:
		if !allowLegacy {
			return ID{}, false, ErrLegacyRecord
		}
		if len(value) != 8 {
			return ID{}, false, fmt.Errorf("%w: legacy id of %d bytes", ErrMalformed, len(value))
		}
		return IntID(int64(binary.BigEndian.Uint64(value))), true, nil
	default:
		return ID{}, false, fmt.Errorf("%w: id kind 0x%02x", ErrMalformed, b[0])
	}
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uvarint(field string) (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: truncated %s", ErrMalformed, field)
	}
	d.off += n
	return v, nil
}

func (d *decoder) bytes(field string, limit int) ([]byte, error) {
	n, err := d.uvarint(field + " length")
	if err != nil {
		return nil, err
	}
	if n > uint64(limit) || n > uint64(len(d.buf)-d.off) {
		return nil, fmt.Errorf("%w: %s of %d bytes exceeds record", ErrMalformed, field, n)
	}
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

func (d *decoder) str(field string) (string, error) {
	b, err := d.bytes(field, len(d.buf))
	if err != nil {
		return "", err
	}
	if len(b) == 0 || !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %s is empty or not valid UTF-8", ErrMalformed, field)
	}
	return string(b), nil
}
