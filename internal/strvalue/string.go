// Package strvalue implements Otter's interned String heap kind
// (spec.md §3.2) plus the UTF-16/UTF-8 coercions the interpreter needs for
// lexicographic string comparison. ToUTF16 uses the standard library's
// unicode/utf16, since ordinary Go string comparison is byte-wise and JS
// comparisons are defined over UTF-16 code units.
package strvalue

import (
	"sync"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"

	"github.com/octofhir/otter-sub002/internal/heap"
)

// String is an immutable, GC-managed, interned string. Equality for
// interned strings of common lengths is identity; Equals falls back to
// structural comparison for the general case (spec.md §3.2).
type String struct {
	s string
}

func (s *String) Trace(*heap.Tracer) {} // strings hold no heap references

func (s *String) Go() string { return s.s }

func (s *String) Equals(o *String) bool {
	if s == o {
		return true
	}
	return s.s == o.s
}

// utf16Encoder is a stateless golang.org/x/text UTF-16LE encoder; ToUTF16
// and Compare do not use it.
var utf16Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

// ToUTF16 returns the UTF-16 code units backing s, the unit JS string
// comparison and indexing operate over.
func ToUTF16(s *String) []uint16 {
	return utf16.Encode([]rune(s.s))
}

// Compare implements JS's lexicographic string ordering (`Lt`/`Gt` in the
// opcode set) by comparing UTF-16 code-unit sequences, not Go's byte-wise
// string comparison.
func Compare(a, b *String) int {
	au, bu := ToUTF16(a), ToUTF16(b)
	n := len(au)
	if len(bu) < n {
		n = len(bu)
	}
	for i := 0; i < n; i++ {
		if au[i] != bu[i] {
			if au[i] < bu[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(au) < len(bu):
		return -1
	case len(au) > len(bu):
		return 1
	default:
		return 0
	}
}

// Interner deduplicates short strings, the common-length fast path
// spec.md §3.2 calls out; longer strings are allocated fresh.
type Interner struct {
	mu    sync.Mutex
	table map[string]*String
}

const internMaxLen = 32

func NewInterner() *Interner {
	return &Interner{table: make(map[string]*String)}
}

func (in *Interner) Intern(s string) *String {
	if len(s) > internMaxLen {
		return &String{s: s}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.table[s]; ok {
		return existing
	}
	v := &String{s: s}
	in.table[s] = v
	return v
}

// Global is the process-global interned-string table (spec.md §9 Global
// mutable state). It is lazily initialized on first use.
var (
	globalOnce sync.Once
	global     *Interner
)

func Global() *Interner {
	globalOnce.Do(func() { global = NewInterner() })
	return global
}
