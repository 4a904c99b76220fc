// Package pkgen provides primary-key generators. PrimaryKeyGenerator is
// user-pluggable: the bundled Autoincrement and UUID generators cover the
// common cases, but any type satisfying the interface can be supplied to a
// WorkTable, including a wrapping generator with custom bounds (mirroring
// the original's wraparound-at-N generator test).
package pkgen

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces the next primary key value. Next must be safe for
// concurrent use; WorkTable.NextPK calls it once per call. WorkTable.Insert
// does not call it: Insert takes the key from the row's PrimaryKey.
type Generator[Pk any] interface {
	Next() Pk
}

// Autoincrement is a monotonic uint64 generator starting at 0, ported from
// the teacher's atomic transaction-id counter idiom
// (internal/storage/mvcc.go's atomic nextTxID/nextTimestamp pattern).
type Autoincrement struct {
	next atomic.Uint64
}

// NewAutoincrement returns a generator whose first Next() call yields 0.
func NewAutoincrement() *Autoincrement {
	return &Autoincrement{}
}

// Next returns the next value and advances the counter.
func (g *Autoincrement) Next() uint64 {
	return g.next.Add(1) - 1
}

// WrappingAutoincrement is a monotonic generator that wraps back to 0 once
// it reaches bound, mirroring the original's custom Generator(AtomicU64)
// test that wraps at 10.
type WrappingAutoincrement struct {
	next  atomic.Uint64
	bound uint64
}

// NewWrappingAutoincrement returns a generator that cycles through
// [0, bound).
func NewWrappingAutoincrement(bound uint64) *WrappingAutoincrement {
	return &WrappingAutoincrement{bound: bound}
}

// Next returns the next value, wrapping to 0 after bound-1.
func (g *WrappingAutoincrement) Next() uint64 {
	for {
		cur := g.next.Load()
		next := cur + 1
		if next >= g.bound {
			next = 0
		}
		if g.next.CompareAndSwap(cur, next) {
			return cur
		}
	}
}

// UUIDGenerator produces random (v4) UUID primary keys, ported from
// internal/storage/uuid_helpers.go's use of github.com/google/uuid.
type UUIDGenerator struct{}

// NewUUIDGenerator returns a UUIDGenerator.
func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

// Next returns a fresh random UUID.
func (UUIDGenerator) Next() uuid.UUID {
	return uuid.New()
}
