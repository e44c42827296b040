package hostabi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/otterlog"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// NetModule is the `otter:net` built-in stub (SPEC_FULL.md's domain-stack
// entry for `github.com/gorilla/websocket`): a minimal socket built-in
// exercising the host-call ABI's "async" shape (spec.md §6) the way
// `grafana-k6` exposes WebSockets to its JS layer — dial happens on a
// background goroutine, and the native function returns a pending Promise
// immediately rather than blocking the interpreter's single JS thread.
type NetModule struct {
	vm *interpreter.VM

	// dialer is overridable in tests so they never touch the real network.
	dialer func(url string, header http.Header) (*websocket.Conn, *http.Response, error)
}

// InstallNet registers the `otter:net` namespace (a `connect(url)` native
// returning a Promise) onto reg's VM global object under the name "net",
// mirroring how internal/builtins installs "console"/"Object"/"RegExp".
// Protocol providers map the `otter:net` specifier to this namespace at the
// linker layer (internal/linker.ProtocolProvider); this function just
// makes the intrinsic reachable as a plain global for hosts that wire it
// directly without going through module resolution.
func InstallNet(reg *Registry) error {
	vm := reg.VM()
	n := &NetModule{vm: vm, dialer: websocket.DefaultDialer.Dial}

	ns := object.New()
	connectVal, err := vm.RegisterNative("connect", 1, n.nativeConnect)
	if err != nil {
		return err
	}
	ns.Set(shape.StringKey("connect"), connectVal)

	ref, err := vm.Heap.Alloc(value.KindObject, ns)
	if err != nil {
		return err
	}
	vm.Global.Set(shape.StringKey("net"), value.Pointer(value.KindObject, ref))
	return nil
}

// nativeConnect implements `net.connect(url)`: dials url as a WebSocket on
// a background goroutine and settles the returned promise with a
// connection object exposing `send(string)`/`close()`, or rejects with the
// dial error. The connection itself is host-side state referenced only by
// closures captured in the native send/close functions — no raw
// *websocket.Conn ever becomes a JS Value (spec.md §4.10's "no Value
// crosses threads" discipline, generalized here to any host resource).
func (n *NetModule) nativeConnect(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Undefined, otterrors.New(otterrors.Type, "net.connect requires a url argument")
	}
	url := vm.ToGoString(args[0])

	p := NewPromise(vm)
	promiseVal, err := BoxPromise(vm, p)
	if err != nil {
		return value.Undefined, err
	}

	go func() {
		conn, _, err := n.dialer(url, nil)
		if err != nil {
			p.Reject(vm.BoxString(err.Error()))
			return
		}
		connVal, err := n.boxConnection(vm, conn)
		if err != nil {
			otterlog.Named("hostabi.net").Sugar().Errorw("boxing websocket connection", "err", err)
			_ = conn.Close()
			p.Reject(vm.BoxString(err.Error()))
			return
		}
		p.Resolve(connVal)
	}()

	return promiseVal, nil
}

// boxConnection wraps conn in a plain Object carrying `send`/`close`
// natives closed over conn, the same "host resource behind a closure, not
// a raw pointer Value" shape internal/builtins uses for console/Object.
func (n *NetModule) boxConnection(vm *interpreter.VM, conn *websocket.Conn) (value.Value, error) {
	o := object.New()

	sendVal, err := vm.RegisterNative("send", 1, func(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Undefined, nil
		}
		msg := vm.ToGoString(args[0])
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return value.Undefined, otterrors.Wrap(otterrors.Internal, err, "websocket write failed")
		}
		return value.Undefined, nil
	})
	if err != nil {
		return value.Undefined, err
	}
	o.Set(shape.StringKey("send"), sendVal)

	closeVal, err := vm.RegisterNative("close", 0, func(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
		return value.Undefined, conn.Close()
	})
	if err != nil {
		return value.Undefined, err
	}
	o.Set(shape.StringKey("close"), closeVal)

	ref, err := vm.Heap.Alloc(value.KindObject, o)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindObject, ref), nil
}
