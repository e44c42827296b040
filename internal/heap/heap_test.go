package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/value"
)

type dummy struct{ ref value.Value }

func (d *dummy) Trace(t *Tracer) { t.MarkValue(d.ref) }

func TestCollectReclaimsUnrooted(t *testing.T) {
	h := New(0)
	ctx := NewContext()

	ref1, err := h.Alloc(value.KindObject, &dummy{})
	require.NoError(t, err)
	_ = ref1

	s := ctx.OpenScope()
	ref2, err := h.Alloc(value.KindObject, &dummy{})
	require.NoError(t, err)
	rootedV := value.Pointer(value.KindObject, ref2)
	s.New(rootedV)

	h.AddRoot(ctx.Roots)
	reclaimed := h.Collect()
	require.Equal(t, 1, reclaimed) // ref1 unrooted, ref2 rooted

	require.NotNil(t, h.Get(ref2))
	require.Nil(t, h.Get(ref1))

	s.Close(ctx)
	reclaimed = h.Collect()
	require.Equal(t, 1, reclaimed)
	require.Nil(t, h.Get(ref2))
}

func TestHandleScopeNesting(t *testing.T) {
	ctx := NewContext()
	outer := ctx.OpenScope()
	h1 := outer.New(value.Int32(1))

	inner := ctx.OpenScope()
	h2 := inner.New(value.Int32(2))
	require.Len(t, ctx.Roots(), 2)

	inner.Close(ctx)
	require.Len(t, ctx.Roots(), 1)
	require.Equal(t, value.Int32(1), h1.Get())
	_ = h2

	outer.Close(ctx)
	require.Len(t, ctx.Roots(), 0)
}
