// Package value implements Otter's NaN-boxed Value representation
// (spec.md §3.1). A Value is a 64-bit word: ordinary IEEE-754 doubles pass
// through unchanged, and every non-double kind is carried in the bit
// patterns of the quiet-NaN space, the same trick wasm_exec/js.go uses to
// multiplex JS values over a single uint64 ref.
package value

import "math"

// Value is a NaN-boxed tagged word.
type Value uint64

// Kind discriminates the heap reference a Pointer value tags, stored
// alongside the tagged word per spec.md §3.1 so Values are self-describing
// without rereading header bytes on hot paths.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindObject
	KindArray
	KindClosure
	KindNative
	KindSymbol
	KindBigInt
	KindPromise
	KindProxy
	KindGenerator
	KindArrayBuffer
	KindTypedArray
	KindDataView
	KindSharedArrayBuffer
	KindRegExp
)

// Bit layout within the quiet-NaN space. The exponent field of a float64 is
// bits 52-62; all-ones marks the NaN/Inf space. We reserve the quiet bit
// (52) plus a 3-bit tag in bits 48-50 to distinguish singleton/int32/pointer
// payloads from a canonical NaN, leaving 48 bits of payload. A pointer
// payload splits them into an 8-bit Kind (bits 40-47) and a 40-bit heap ref.
const (
	quietNaNPrefix uint64 = 0x7FF8_0000_0000_0000
	tagMask        uint64 = 0x0007_0000_0000_0000
	payloadMask    uint64 = 0x0000_FFFF_FFFF_FFFF

	tagCanonicalNaN uint64 = 0x0000_0000_0000_0000
	tagInt32        uint64 = 0x0001_0000_0000_0000
	tagSingleton    uint64 = 0x0002_0000_0000_0000
	tagPointer      uint64 = 0x0003_0000_0000_0000

	kindShift = 40 // within the 48-bit payload, top byte carries Kind for pointers
)

const (
	singletonUndefined uint64 = iota
	singletonNull
	singletonTrue
	singletonFalse
)

var (
	Undefined = fromTagged(tagSingleton, singletonUndefined)
	Null      = fromTagged(tagSingleton, singletonNull)
	True      = fromTagged(tagSingleton, singletonTrue)
	False     = fromTagged(tagSingleton, singletonFalse)
	NaN       = fromTagged(tagCanonicalNaN, 0)
)

func fromTagged(tag, payload uint64) Value {
	return Value(quietNaNPrefix | tag | (payload & payloadMask))
}

// Double boxes a regular float64. NaN payloads are canonicalized so JS NaN
// never collides with the Undefined/Null/etc. bit patterns.
func Double(f float64) Value {
	if math.IsNaN(f) {
		return NaN
	}
	return Value(math.Float64bits(f))
}

// Int32 boxes a 32-bit signed integer in the low word of the payload.
func Int32(i int32) Value {
	return fromTagged(tagInt32, uint64(uint32(i)))
}

// Bool boxes a JS boolean.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// pointerPayload packs a Kind and a 40-bit heap reference into the 48-bit
// tagged pointer payload: top byte is Kind, low 5 bytes are the reference.
func pointerPayload(k Kind, ref uint64) uint64 {
	return (uint64(k) << 40) | (ref & 0xFF_FFFF_FFFF)
}

// Pointer boxes a heap reference. ref is an opaque 40-bit handle/offset
// managed by the heap package; Value never interprets it directly.
func Pointer(k Kind, ref uint64) Value {
	return fromTagged(tagPointer, pointerPayload(k, ref))
}

func (v Value) bits() uint64 { return uint64(v) }

func (v Value) isQuietNaNSpace() bool {
	return v.bits()&quietNaNPrefix == quietNaNPrefix
}

func (v Value) tag() uint64 { return v.bits() & tagMask }

// IsDouble reports whether v is an ordinary (non-boxed) float64, including
// the canonical NaN bit pattern, which is itself a valid double.
func (v Value) IsDouble() bool {
	if !v.isQuietNaNSpace() {
		return true
	}
	return v.tag() == tagCanonicalNaN
}

func (v Value) IsInt32() bool     { return v.isQuietNaNSpace() && v.tag() == tagInt32 }
func (v Value) IsSingleton() bool { return v.isQuietNaNSpace() && v.tag() == tagSingleton }
func (v Value) IsPointer() bool   { return v.isQuietNaNSpace() && v.tag() == tagPointer }

func (v Value) IsUndefined() bool { return v == Undefined }
func (v Value) IsNull() bool      { return v == Null }
func (v Value) IsNullish() bool   { return v.IsUndefined() || v.IsNull() }
func (v Value) IsBool() bool      { return v == True || v == False }

// AsDouble returns the IEEE-754 float64 this value carries. Callers must
// have checked IsDouble first.
func (v Value) AsDouble() float64 { return math.Float64frombits(v.bits()) }

// AsInt32 returns the boxed integer payload. Callers must have checked
// IsInt32 first.
func (v Value) AsInt32() int32 { return int32(uint32(v.bits() & 0xFFFF_FFFF)) }

// AsBool returns the boxed boolean. Callers must have checked IsBool first.
func (v Value) AsBool() bool { return v == True }

// AsPointer returns the heap Kind and opaque reference. Callers must have
// checked IsPointer first.
func (v Value) AsPointer() (Kind, uint64) {
	payload := v.bits() & payloadMask
	return Kind(payload >> 40), payload & 0xFF_FFFF_FFFF
}

// TypeOf implements the `typeof` operator per spec.md invariant #1: eight
// canonical strings, typeof(null) == "object", and closures/natives report
// "function".
func (v Value) TypeOf() string {
	switch {
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "object"
	case v.IsBool():
		return "boolean"
	case v.IsDouble(), v.IsInt32():
		return "number"
	case v.IsPointer():
		k, _ := v.AsPointer()
		switch k {
		case KindString:
			return "string"
		case KindSymbol:
			return "symbol"
		case KindBigInt:
			return "bigint"
		case KindClosure, KindNative:
			return "function"
		default:
			return "object"
		}
	default:
		return "undefined"
	}
}

// ToBoolean implements spec.md invariant #2: falsy iff v is one of
// { undefined, null, false, NaN, +0, -0, "", 0n }. Strings and BigInts are
// resolved via the provided predicates since Value itself doesn't carry
// their contents.
func ToBoolean(v Value, isEmptyString func(Value) bool, isZeroBigInt func(Value) bool) bool {
	switch {
	case v.IsUndefined(), v.IsNull():
		return false
	case v.IsBool():
		return v.AsBool()
	case v.IsInt32():
		return v.AsInt32() != 0
	case v.IsDouble():
		f := v.AsDouble()
		if math.IsNaN(f) {
			return false
		}
		return f != 0
	case v.IsPointer():
		k, _ := v.AsPointer()
		switch k {
		case KindString:
			return !isEmptyString(v)
		case KindBigInt:
			return !isZeroBigInt(v)
		default:
			return true
		}
	default:
		return false
	}
}

// StrictEquals implements spec.md invariant #3: bit-identical values are
// equal unless both are NaN, with the ±0 correction for doubles.
func StrictEquals(a, b Value) bool {
	if a == b {
		if a.IsDouble() && math.IsNaN(a.AsDouble()) {
			return false
		}
		return true
	}
	if a.IsDouble() && b.IsDouble() {
		return a.AsDouble() == b.AsDouble() // handles +0 == -0, NaN != NaN
	}
	if a.IsInt32() && b.IsDouble() {
		return float64(a.AsInt32()) == b.AsDouble()
	}
	if b.IsInt32() && a.IsDouble() {
		return float64(b.AsInt32()) == a.AsDouble()
	}
	return false
}
