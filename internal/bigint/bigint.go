// Package bigint implements Otter's BigInt heap kind (spec.md §3.1) over
// math/big, GC-tagged like every other heap kind. Values are not interned:
// every constructor and arithmetic call allocates a fresh BigInt.
package bigint

import (
	"math/big"

	"github.com/octofhir/otter-sub002/internal/heap"
)

// BigInt is a GC-managed arbitrary-precision integer.
type BigInt struct {
	v *big.Int
}

func FromInt64(i int64) *BigInt { return &BigInt{v: big.NewInt(i)} }

func FromString(s string) (*BigInt, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, false
	}
	return &BigInt{v: v}, true
}

func (b *BigInt) Trace(*heap.Tracer) {}

func (b *BigInt) IsZero() bool { return b.v.Sign() == 0 }

func (b *BigInt) String() string { return b.v.String() }

func (b *BigInt) Add(o *BigInt) *BigInt { return &BigInt{v: new(big.Int).Add(b.v, o.v)} }
func (b *BigInt) Sub(o *BigInt) *BigInt { return &BigInt{v: new(big.Int).Sub(b.v, o.v)} }
func (b *BigInt) Mul(o *BigInt) *BigInt { return &BigInt{v: new(big.Int).Mul(b.v, o.v)} }

func (b *BigInt) Cmp(o *BigInt) int { return b.v.Cmp(o.v) }
