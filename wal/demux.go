package wal

import (
	"fmt"
	"sort"
)

// OpKind is the kind of a committed operation.
type OpKind uint8

const (
	OpStore OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpStore:
		return "store"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is one operation of a committed transaction. Value is set for stores.
type Op struct {
	Kind   OpKind
	Entity string
	ID     ID
	Value  []byte
}

// Transaction is a committed transaction as reconstructed by Demux.
type Transaction struct {
	ID        uint64
	StartLSN  uint64
	CommitLSN uint64
	Ops       []Op
}

// HasDeletes reports whether the transaction deletes anything.
func (t *Transaction) HasDeletes() bool {
	for _, op := range t.Ops {
		if op.Kind == OpDelete {
			return true
		}
	}
	return false
}

// PendingTx describes a transaction that was started but not ended.
type PendingTx struct {
	ID       uint64
	StartLSN uint64
	Ops      int // completed operations
	Partial  int // values whose terminator has not arrived
}

type target struct {
	entity string
	id     ID
}

type pendingTx struct {
	startLSN uint64
	ops      []Op
	open     map[target][]byte
}

// Demux rebuilds transactions from an interleaved record stream. It is not
// safe for concurrent use.
type Demux struct {
	pending map[uint64]*pendingTx
}

// NewDemux returns an empty Demux.
func NewDemux() *Demux {
	return &Demux{pending: make(map[uint64]*pendingTx)}
}

// Feed consumes the next record. It returns the transaction when m commits
// one, nil otherwise. Records that violate the lifecycle fail with an error
// wrapping ErrSequence; the Demux state is unchanged in that case.
func (d *Demux) Feed(lsn uint64, m Message) (*Transaction, error) {
	switch v := m.(type) {
	case StartTransaction:
		if _, ok := d.pending[v.Tx]; ok {
			return nil, fmt.Errorf("%w: duplicate start of tx %d at lsn %d", ErrSequence, v.Tx, lsn)
		}
		d.pending[v.Tx] = &pendingTx{startLSN: lsn}
		return nil, nil

	case StoreChunk:
		p, err := d.lookup(lsn, v)
		if err != nil {
			return nil, err
		}
		key := target{entity: v.Entity, id: v.ID}
		buf, inProgress := p.open[key]
		if v.IsTerminator() {
			if inProgress {
				delete(p.open, key)
			} else {
				buf = []byte{}
			}
			p.ops = append(p.ops, Op{Kind: OpStore, Entity: v.Entity, ID: v.ID, Value: buf})
			return nil, nil
		}
		if p.open == nil {
			p.open = make(map[target][]byte)
		}
		p.open[key] = append(buf, v.Chunk...)
		return nil, nil

	case Delete:
		p, err := d.lookup(lsn, v)
		if err != nil {
			return nil, err
		}
		if _, ok := p.open[target{entity: v.Entity, id: v.ID}]; ok {
			return nil, fmt.Errorf("%w: delete of %s/%s in tx %d interrupts an unterminated value at lsn %d",
				ErrSequence, v.Entity, v.ID, v.Tx, lsn)
		}
		p.ops = append(p.ops, Op{Kind: OpDelete, Entity: v.Entity, ID: v.ID})
		return nil, nil

	case CommitTransaction:
		p, err := d.lookup(lsn, v)
		if err != nil {
			return nil, err
		}
		if len(p.open) > 0 {
			return nil, fmt.Errorf("%w: commit of tx %d at lsn %d with %d unterminated values",
				ErrSequence, v.Tx, lsn, len(p.open))
		}
		delete(d.pending, v.Tx)
		return &Transaction{ID: v.Tx, StartLSN: p.startLSN, CommitLSN: lsn, Ops: p.ops}, nil

	case RollbackTransaction:
		if _, err := d.lookup(lsn, v); err != nil {
			return nil, err
		}
		delete(d.pending, v.Tx)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrInvalidMessage, m)
	}
}

func (d *Demux) lookup(lsn uint64, m Message) (*pendingTx, error) {
	p, ok := d.pending[m.TxID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s for unknown tx %d at lsn %d", ErrSequence, m.Tag(), m.TxID(), lsn)
	}
	return p, nil
}

// Pending returns the open transactions ordered by start position.
func (d *Demux) Pending() []PendingTx {
	out := make([]PendingTx, 0, len(d.pending))
	for id, p := range d.pending {
		out = append(out, PendingTx{ID: id, StartLSN: p.startLSN, Ops: len(p.ops), Partial: len(p.open)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartLSN < out[j].StartLSN })
	return out
}

// Discard forgets an open transaction.
func (d *Demux) Discard(tx uint64) {
	delete(d.pending, tx)
}
