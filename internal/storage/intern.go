// String interning. Every distinct byte string observed in a trace is
// stored once and referred to by a dense StringId everywhere else.
package storage

import (
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// StringId refers to an interned string. Id 0 is the null id and never
// refers to stored data.
type StringId uint32

// NullStringId is the id of the absent string.
const NullStringId StringId = 0

// IsNull reports whether the id refers to no string at all.
func (id StringId) IsNull() bool { return id == NullStringId }

// StringPool deduplicates strings behind dense ids. Lookup is by xxh3 hash
// with a full comparison on the (rare) bucket collision.
type StringPool struct {
	strings []string
	index   map[uint64][]StringId

	// Mirrors len(strings)-1 for readers on other goroutines, such as a
	// metrics scrape racing the parser.
	count atomic.Int64
}

// NewStringPool creates a pool with the null id reserved.
func NewStringPool() *StringPool {
	return &StringPool{
		strings: []string{""},
		index:   make(map[uint64][]StringId),
	}
}

// InternString returns the id for the given bytes, storing them on first
// sight. The empty string interns like any other value and returns a
// non-null id.
func (p *StringPool) InternString(b []byte) StringId {
	h := xxh3.Hash(b)
	for _, id := range p.index[h] {
		if p.strings[id] == string(b) {
			return id
		}
	}
	id := StringId(len(p.strings))
	p.strings = append(p.strings, string(b))
	p.index[h] = append(p.index[h], id)
	p.count.Store(int64(len(p.strings) - 1))
	return id
}

// Get returns the string for a previously interned id. The null id resolves
// to the empty string.
func (p *StringPool) Get(id StringId) string { return p.strings[id] }

// Len returns the number of interned strings, excluding the null slot. Safe
// to call from any goroutine.
func (p *StringPool) Len() int { return int(p.count.Load()) }
