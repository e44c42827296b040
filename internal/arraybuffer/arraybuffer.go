// Package arraybuffer implements the ArrayBuffer/TypedArray/DataView/
// SharedArrayBuffer family (spec.md §3.1) as thin views over a shared
// []byte backing store.
package arraybuffer

import (
	"encoding/binary"
	"math"

	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/otterrors"
)

// Buffer is the backing store shared by an ArrayBuffer and every TypedArray/
// DataView view onto it. Shared (SharedArrayBuffer) buffers are the same
// type with Shared set true; Otter does not special-case atomics beyond that
// flag within this execution core.
type Buffer struct {
	data   []byte
	Shared bool
}

func New(byteLength int) *Buffer {
	return &Buffer{data: make([]byte, byteLength)}
}

func (b *Buffer) Trace(*heap.Tracer) {} // raw bytes hold no heap references

func (b *Buffer) ByteLength() int { return len(b.data) }

func (b *Buffer) Slice(begin, end int) (*Buffer, error) {
	if begin < 0 || end > len(b.data) || begin > end {
		return nil, otterrors.New(otterrors.Range, "ArrayBuffer.slice: range out of bounds")
	}
	cp := make([]byte, end-begin)
	copy(cp, b.data[begin:end])
	return &Buffer{data: cp}, nil
}

// ElementKind enumerates TypedArray element types.
type ElementKind int

const (
	Int8 ElementKind = iota
	Uint8
	Uint8Clamped
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
	BigInt64
	BigUint64
)

func (k ElementKind) Size() int {
	switch k {
	case Int8, Uint8, Uint8Clamped:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	default:
		return 8
	}
}

// TypedArray is a typed view over a region of a Buffer.
type TypedArray struct {
	Buf         *Buffer
	ByteOffset  int
	Length      int // element count
	Kind        ElementKind
}

func (t *TypedArray) Trace(tr *heap.Tracer) {} // Buf is referenced via its own Value, not traced here

func (t *TypedArray) byteAt(i int) int { return t.ByteOffset + i*t.Kind.Size() }

// GetFloat64 reads element i, widening any integer kind to float64 the way
// reading a typed-array element into a boxed Value requires.
func (t *TypedArray) GetFloat64(i int) float64 {
	off := t.byteAt(i)
	b := t.Buf.data
	switch t.Kind {
	case Int8:
		return float64(int8(b[off]))
	case Uint8, Uint8Clamped:
		return float64(b[off])
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b[off:])))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b[off:]))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b[off:])))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b[off:]))
	case Float32:
		bits := binary.LittleEndian.Uint32(b[off:])
		return float64(math.Float32frombits(bits))
	case Float64:
		bits := binary.LittleEndian.Uint64(b[off:])
		return math.Float64frombits(bits)
	default:
		return 0
	}
}

func (t *TypedArray) SetFloat64(i int, v float64) {
	off := t.byteAt(i)
	b := t.Buf.data
	switch t.Kind {
	case Int8:
		b[off] = byte(int8(v))
	case Uint8:
		b[off] = byte(uint8(v))
	case Uint8Clamped:
		b[off] = clampUint8(v)
	case Int16:
		binary.LittleEndian.PutUint16(b[off:], uint16(int16(v)))
	case Uint16:
		binary.LittleEndian.PutUint16(b[off:], uint16(v))
	case Int32:
		binary.LittleEndian.PutUint32(b[off:], uint32(int32(v)))
	case Uint32:
		binary.LittleEndian.PutUint32(b[off:], uint32(v))
	case Float32:
		binary.LittleEndian.PutUint32(b[off:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
	}
}

func clampUint8(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// DataView is an explicit-endianness view over a Buffer region.
type DataView struct {
	Buf        *Buffer
	ByteOffset int
	ByteLength int
}

func (d *DataView) Trace(*heap.Tracer) {}
