// Package intrinsics holds heap-resident helper types for builtins that
// need more than a boxed primitive to back them — currently just RegExp
// (spec.md §4.12's closed builtin surface; RegExp is named explicitly
// because `exec`/`test` need real pattern matching, not string methods).
package intrinsics

import (
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/otterrors"
)

// Regex is the heap-resident payload behind a value.KindRegExp Value.
// Go's stdlib regexp is RE2-based and cannot express backreferences or
// lookaround, both of which JS regex literals allow; this build compiles
// every pattern with dlclark/regexp2 instead, the same tradeoff the
// teacher's dependency pack makes available (it never uses regexp2 itself,
// but carries it transitively — see DESIGN.md's domain-stack notes).
type Regex struct {
	Source string
	Flags  string
	re     *regexp2.Regexp
}

// Trace implements heap.Traceable. A Regex holds no references into the
// GC heap (its compiled program is private, non-Value state).
func (r *Regex) Trace(*heap.Tracer) {}

// ParseLiteral splits a `/pattern/flags` regex literal into its two parts.
// Source lacking the surrounding slashes (already-bare patterns, as a
// compiler might emit for `new RegExp("...")`) is returned unchanged with
// no flags.
func ParseLiteral(lit string) (pattern, flags string) {
	if len(lit) < 2 || lit[0] != '/' {
		return lit, ""
	}
	end := strings.LastIndexByte(lit, '/')
	if end <= 0 {
		return lit, ""
	}
	return lit[1:end], lit[end+1:]
}

// Compile builds a Regex from a source pattern and a JS flag string (any
// combination of g, i, m, s, u, y). Unsupported regexp2 options are
// ignored rather than rejected, since spec.md §4.12 treats RegExp as a
// best-effort builtin, not a conformance target.
func Compile(source, flags string) (*Regex, error) {
	opts := regexp2.None
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		}
	}
	re, err := regexp2.Compile(source, opts)
	if err != nil {
		return nil, otterrors.Wrap(otterrors.Syntax, err, "invalid regular expression")
	}
	return &Regex{Source: source, Flags: flags, re: re}, nil
}

// Global reports whether the `g` flag was present, since RegExp.prototype
// .exec's stateful lastIndex behavior (spec.md §4.12) only applies then.
func (r *Regex) Global() bool { return strings.ContainsRune(r.Flags, 'g') }

// Test reports whether s contains any match for the pattern.
func (r *Regex) Test(s string) (bool, error) {
	m, err := r.re.FindStringMatch(s)
	if err != nil {
		return false, otterrors.Wrap(otterrors.Internal, err, "regexp match failed")
	}
	return m != nil, nil
}

// MatchResult is one successful match: the full match plus captured
// groups, in order, with unmatched optional groups reported as (nil, "").
type MatchResult struct {
	Index  int
	Groups []MatchGroup
}

type MatchGroup struct {
	Matched bool
	Text    string
}

// Exec finds the first match starting at or after fromIndex (byte offset
// into s), the Go-side primitive RegExp.prototype.exec's lastIndex
// bookkeeping is layered on top of.
func (r *Regex) Exec(s string, fromIndex int) (*MatchResult, error) {
	if fromIndex < 0 {
		fromIndex = 0
	}
	if fromIndex > len(s) {
		return nil, nil
	}
	m, err := r.re.FindStringMatchStartingAt(s, fromIndex)
	if err != nil {
		return nil, otterrors.Wrap(otterrors.Internal, err, "regexp match failed")
	}
	if m == nil {
		return nil, nil
	}
	groups := m.Groups()
	res := &MatchResult{Index: m.Index, Groups: make([]MatchGroup, len(groups))}
	for i, g := range groups {
		if len(g.Captures) == 0 {
			res.Groups[i] = MatchGroup{Matched: false}
			continue
		}
		res.Groups[i] = MatchGroup{Matched: true, Text: g.String()}
	}
	return res, nil
}
