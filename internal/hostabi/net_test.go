package hostabi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/promise"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

func waitSettled(t *testing.T, p *promise.Promise) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.State() == promise.Pending {
		if time.Now().After(deadline) {
			t.Fatal("promise never settled")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNetConnectResolvesOnSuccessfulDial(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()
	wsURL := "ws" + srv.URL[len("http"):]

	vm := interpreter.NewVM()
	reg := NewRegistry(vm)
	require.NoError(t, InstallNet(reg))

	netVal, found := vm.Global.Get(shape.StringKey("net"), 0)
	require.True(t, found)
	netObj, ok := vm.AsObject(netVal)
	require.True(t, ok)
	connectFn, found := netObj.Get(shape.StringKey("connect"), 0)
	require.True(t, found)

	result, err := vm.InvokeCallable(connectFn, value.Undefined, []value.Value{vm.BoxString(wsURL)})
	require.NoError(t, err)
	require.True(t, result.IsPointer())
	k, ref := result.AsPointer()
	require.Equal(t, value.KindPromise, k)
	p, ok := vm.Heap.Get(ref).(*promise.Promise)
	require.True(t, ok)

	waitSettled(t, p)
	require.Equal(t, promise.Fulfilled, p.State())

	conn, ok := vm.AsObject(p.Value())
	require.True(t, ok)
	closeFn, found := conn.Get(shape.StringKey("close"), 0)
	require.True(t, found)
	_, err = vm.InvokeCallable(closeFn, p.Value(), nil)
	require.NoError(t, err)
}

func TestNetConnectRejectsOnDialFailure(t *testing.T) {
	vm := interpreter.NewVM()
	reg := NewRegistry(vm)
	require.NoError(t, InstallNet(reg))

	netVal, found := vm.Global.Get(shape.StringKey("net"), 0)
	require.True(t, found)
	netObj, ok := vm.AsObject(netVal)
	require.True(t, ok)
	connectFn, found := netObj.Get(shape.StringKey("connect"), 0)
	require.True(t, found)

	result, err := vm.InvokeCallable(connectFn, value.Undefined, []value.Value{vm.BoxString("ws://127.0.0.1:1/no-such-server")})
	require.NoError(t, err)
	_, ref := result.AsPointer()
	p, ok := vm.Heap.Get(ref).(*promise.Promise)
	require.True(t, ok)

	waitSettled(t, p)
	require.Equal(t, promise.Rejected, p.State())
}
