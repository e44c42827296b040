// Package linker implements Otter's ESM/CJS module linker (spec.md §4.7):
// specifier resolution, depth-first graph construction, the per-module
// lifecycle state machine, live circular bindings, and CJS/ESM interop.
package linker

import (
	"strings"

	"github.com/octofhir/otter-sub002/internal/otterrors"
)

// ModuleKind distinguishes the two module systems the linker bridges.
type ModuleKind int

const (
	KindESM ModuleKind = iota
	KindCJS
)

// ProtocolProvider resolves specifiers under a registered scheme (`node:`,
// `otter:`) to a concrete URL understood by the embedder's Loader.
type ProtocolProvider interface {
	Scheme() string
	Resolve(specifier string) (url string, ok bool)
}

// Resolver implements spec.md §4.7's three-tier specifier resolution order:
// (1) registered protocol providers, (2) absolute paths, (3) relative/bare
// names via a Node-style algorithm. The actual filesystem probing (package
// main fields, extension/index fallback) is supplied by NodeResolve, since
// it depends on an embedder-provided filesystem the core has no opinion on.
type Resolver struct {
	providers  []ProtocolProvider
	NodeResolve func(specifier, referrer string) (string, error)
}

func NewResolver(providers ...ProtocolProvider) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve maps a specifier relative to a referrer URL to a resolved URL,
// trying protocol providers, then absolute paths, then the Node-style
// resolver in that fixed order.
func (r *Resolver) Resolve(specifier, referrer string) (string, error) {
	if i := strings.Index(specifier, ":"); i > 0 {
		scheme := specifier[:i]
		for _, p := range r.providers {
			if p.Scheme() == scheme {
				if url, ok := p.Resolve(specifier); ok {
					return url, nil
				}
			}
		}
	}
	if strings.HasPrefix(specifier, "/") {
		return specifier, nil
	}
	if r.NodeResolve != nil {
		return r.NodeResolve(specifier, referrer)
	}
	return "", otterrors.New(otterrors.ResolveError, "no resolver available for specifier "+specifier)
}

// PathMapper implements TypeScript-style path-mapping (`compilerOptions.
// paths` in tsconfig.json), a feature supplemented from original_source/
// that spec.md's distillation dropped: a bare specifier can be rewritten to
// one of several candidate targets before falling through to Node
// resolution, matching how the original's module loader layers a path-map
// rewrite in front of its resolver.
type PathMapper struct {
	// patterns maps a prefix (without the trailing "/*") to its replacement
	// target prefixes, preserving tsconfig's longest-prefix-wins semantics.
	patterns map[string][]string
}

func NewPathMapper() *PathMapper {
	return &PathMapper{patterns: make(map[string][]string)}
}

// AddMapping registers one `"prefix/*": ["target/*", ...]` tsconfig entry.
func (m *PathMapper) AddMapping(prefix string, targets ...string) {
	m.patterns[strings.TrimSuffix(prefix, "/*")] = trimAll(targets)
}

func trimAll(targets []string) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = strings.TrimSuffix(t, "/*")
	}
	return out
}

// Rewrite returns every candidate rewritten specifier for the longest
// matching prefix, or (nil, false) if no mapping applies.
func (m *PathMapper) Rewrite(specifier string) ([]string, bool) {
	var bestPrefix string
	for prefix := range m.patterns {
		if (specifier == prefix || strings.HasPrefix(specifier, prefix+"/")) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	if bestPrefix == "" {
		if targets, ok := m.patterns[specifier]; ok {
			return targets, true
		}
		return nil, false
	}
	rest := strings.TrimPrefix(specifier, bestPrefix)
	targets := m.patterns[bestPrefix]
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t + rest
	}
	return out, true
}
