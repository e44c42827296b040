package linker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/bytecode"
)

// countingLoader wraps another Loader and counts delegated calls, so tests
// can assert CompiledModuleCache serves repeats from memory.
type countingLoader struct {
	inner Loader
	calls int
}

func (c *countingLoader) Load(url string) (*bytecode.Module, ModuleKind, error) {
	c.calls++
	return c.inner.Load(url)
}

func TestCompiledModuleCacheServesRepeatLoadsWithoutRecompiling(t *testing.T) {
	inner := newFakeLoader()
	inner.modules["a.js"] = moduleExportingConst("x", 1, nil)
	inner.kinds["a.js"] = KindESM

	counting := &countingLoader{inner: inner}
	// No stat function given a URL that isn't a real path: statFn always
	// reports "no mtime available", so the cache falls back to unconditional
	// per-URL caching (the built-in/in-memory-URL branch).
	cache := NewCompiledModuleCache(counting, func(string) (int64, bool) { return 0, false })

	m1, k1, err := cache.Load("a.js")
	require.NoError(t, err)
	require.Equal(t, KindESM, k1)
	require.Same(t, inner.modules["a.js"], m1)
	require.Equal(t, 1, counting.calls)

	m2, _, err := cache.Load("a.js")
	require.NoError(t, err)
	require.Same(t, m1, m2)
	require.Equal(t, 1, counting.calls, "second load should be served from cache, not recompiled")
}

func TestCompiledModuleCacheInvalidatesOnMtimeChange(t *testing.T) {
	inner := newFakeLoader()
	inner.modules["a.js"] = moduleExportingConst("x", 1, nil)
	inner.kinds["a.js"] = KindESM

	counting := &countingLoader{inner: inner}
	mtime := int64(100)
	cache := NewCompiledModuleCache(counting, func(string) (int64, bool) { return mtime, true })

	_, _, err := cache.Load("a.js")
	require.NoError(t, err)
	require.Equal(t, 1, counting.calls)

	_, _, err = cache.Load("a.js")
	require.NoError(t, err)
	require.Equal(t, 1, counting.calls, "unchanged mtime should hit the cache")

	mtime = 200
	inner.modules["a.js"] = moduleExportingConst("x", 2, nil)
	_, _, err = cache.Load("a.js")
	require.NoError(t, err)
	require.Equal(t, 2, counting.calls, "mtime bump should force a recompile")
}

func TestCompiledModuleCacheInvalidateForcesRecompile(t *testing.T) {
	inner := newFakeLoader()
	inner.modules["a.js"] = moduleExportingConst("x", 1, nil)
	inner.kinds["a.js"] = KindESM

	counting := &countingLoader{inner: inner}
	cache := NewCompiledModuleCache(counting, func(string) (int64, bool) { return 0, false })

	_, _, err := cache.Load("a.js")
	require.NoError(t, err)
	require.Equal(t, 1, counting.calls)

	cache.Invalidate("a.js")
	_, _, err = cache.Load("a.js")
	require.NoError(t, err)
	require.Equal(t, 2, counting.calls)
}
