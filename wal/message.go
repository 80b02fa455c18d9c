package wal

import "fmt"

// Tag is the record discriminant written as the first byte of every record.
// Values are part of the on-disk format and must never change.
type Tag uint8

const (
	TagStart      Tag = 0x01
	TagStoreChunk Tag = 0x02
	TagDelete     Tag = 0x03
	TagCommit     Tag = 0x04
	TagRollback   Tag = 0x05
)

func (t Tag) String() string {
	switch t {
	case TagStart:
		return "START"
	case TagStoreChunk:
		return "STORE_CHUNK"
	case TagDelete:
		return "DELETE"
	case TagCommit:
		return "COMMIT"
	case TagRollback:
		return "ROLLBACK"
	default:
		return fmt.Sprintf("TAG(0x%02x)", uint8(t))
	}
}

// Message is a decoded WAL record. The set of implementations is closed.
type Message interface {
	Tag() Tag
	TxID() uint64
	isMessage()
}

// StartTransaction opens transaction Tx.
type StartTransaction struct {
	Tx uint64
}

// StoreChunk carries one piece of the value stored under (Entity, ID).
// An empty Chunk terminates the value.
type StoreChunk struct {
	Tx     uint64
	Entity string
	ID     ID
	Chunk  []byte
}

// IsTerminator reports whether c ends its value.
func (c StoreChunk) IsTerminator() bool { return len(c.Chunk) == 0 }

// Delete removes the value stored under (Entity, ID).
type Delete struct {
	Tx     uint64
	Entity string
	ID     ID
}

// CommitTransaction commits transaction Tx.
type CommitTransaction struct {
	Tx uint64
}

// RollbackTransaction abandons transaction Tx.
type RollbackTransaction struct {
	Tx uint64
}

func (StartTransaction) Tag() Tag    { return TagStart }
func (StoreChunk) Tag() Tag          { return TagStoreChunk }
func (Delete) Tag() Tag              { return TagDelete }
func (CommitTransaction) Tag() Tag   { return TagCommit }
func (RollbackTransaction) Tag() Tag { return TagRollback }

func (m StartTransaction) TxID() uint64    { return m.Tx }
func (m StoreChunk) TxID() uint64          { return m.Tx }
func (m Delete) TxID() uint64              { return m.Tx }
func (m CommitTransaction) TxID() uint64   { return m.Tx }
func (m RollbackTransaction) TxID() uint64 { return m.Tx }

func (StartTransaction) isMessage()    {}
func (StoreChunk) isMessage()          {}
func (Delete) isMessage()              {}
func (CommitTransaction) isMessage()   {}
func (RollbackTransaction) isMessage() {}
