package promise

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/microtask"
	"github.com/octofhir/otter-sub002/internal/value"
)

type noopResolver struct{}

func (noopResolver) IsThenable(value.Value) bool         { return false }
func (noopResolver) CallThen(value.Value, *Promise)      {}
func (noopResolver) MakeTypeError(string) value.Value    { return value.Undefined }

func TestThenChainSettlesAndRunsAsMicrotasks(t *testing.T) {
	q := microtask.New()
	p := New(q, noopResolver{})
	p.Resolve(value.Int32(1))

	p2 := p.Then(func(v value.Value) (value.Value, error) {
		return value.Int32(v.AsInt32() + 1), nil
	}, nil)
	p3 := p2.Then(func(v value.Value) (value.Value, error) {
		return value.Int32(v.AsInt32() * 2), nil
	}, nil)

	// Nothing should have run synchronously.
	require.Equal(t, Pending, p3.State())
	require.True(t, q.Len() > 0)

	q.Drain()

	require.Equal(t, Fulfilled, p3.State())
	require.Equal(t, int32(4), p3.Value().AsInt32())
}

func TestSettledPromiseIsImmutable(t *testing.T) {
	q := microtask.New()
	p := New(q, noopResolver{})
	p.Resolve(value.Int32(1))
	q.Drain()
	p.Resolve(value.Int32(2))
	p.Reject(value.Int32(3))
	require.Equal(t, Fulfilled, p.State())
	require.Equal(t, int32(1), p.Value().AsInt32())
}

func TestSelfResolutionRejects(t *testing.T) {
	q := microtask.New()
	resolver := noopResolver{}
	p := New(q, resolver)
	self := value.Pointer(value.KindPromise, 1)
	p.SetSelf(self)
	p.Resolve(self)
	q.Drain()
	require.Equal(t, Rejected, p.State())
}
