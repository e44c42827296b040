// Package worker implements Otter's worker-thread model (spec.md §4.10):
// per-worker VM isolation, the parent/child worker message channel,
// MessageChannel/MessagePort pairs, and named BroadcastChannels. Every
// primitive here crosses goroutine boundaries only through serialized
// Message values — spec.md §4.10's invariant "no Value crosses threads;
// only serialized payloads do" — grounded on wazero's own host/guest
// memory-isolation stance (a compiled module's linear memory never aliases
// another instance's), generalized from "isolated linear memory" to
// "isolated heap, crossed only by copy."
package worker

import (
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/strvalue"
	"github.com/octofhir/otter-sub002/internal/value"
)

// Kind discriminates a structured-clone Message's shape.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Message is a structured-clone value (spec.md §4.10 "structured-clone
// JSON-like values"): a portable, heap-independent tree that can be handed
// across a Go channel and rematerialized in a different VM's heap.
type Message struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Items  []Message          // KindArray
	Fields map[string]Message // KindObject
}

// Clone converts a live Value in vm's heap into a portable Message,
// recursing through plain objects and arrays. Functions, promises, and
// other non-cloneable heap kinds report a DataCloneError-shaped failure
// (modeled here as otterrors.Type, since spec.md's closed Kind taxonomy has
// no dedicated DataCloneError entry).
func Clone(vm *interpreter.VM, v value.Value) (Message, error) {
	switch {
	case v.IsUndefined():
		return Message{Kind: KindUndefined}, nil
	case v.IsNull():
		return Message{Kind: KindNull}, nil
	case v.IsBool():
		return Message{Kind: KindBool, Bool: v.AsBool()}, nil
	case v.IsInt32():
		return Message{Kind: KindNumber, Number: float64(v.AsInt32())}, nil
	case v.IsDouble():
		return Message{Kind: KindNumber, Number: v.AsDouble()}, nil
	case v.IsPointer():
		k, ref := v.AsPointer()
		switch k {
		case value.KindString:
			s, ok := vm.Heap.Get(ref).(*strvalue.String)
			if !ok {
				return Message{}, otterrors.New(otterrors.Type, "could not clone string value")
			}
			return Message{Kind: KindString, Str: s.Go()}, nil
		case value.KindArray:
			arr, ok := vm.Heap.Get(ref).(*object.Object)
			if !ok {
				return Message{}, otterrors.New(otterrors.Type, "could not clone array value")
			}
			items := make([]Message, len(arr.Elements))
			for i, elem := range arr.Elements {
				m, err := Clone(vm, elem)
				if err != nil {
					return Message{}, err
				}
				items[i] = m
			}
			return Message{Kind: KindArray, Items: items}, nil
		case value.KindObject:
			obj, ok := vm.Heap.Get(ref).(*object.Object)
			if !ok {
				return Message{}, otterrors.New(otterrors.Type, "could not clone object value")
			}
			fields := make(map[string]Message)
			for _, key := range obj.OwnKeys() {
				d, found := obj.DescriptorForKey(key)
				if !found || d.IsAccessor || !d.Enumerable {
					continue
				}
				m, err := Clone(vm, d.Value)
				if err != nil {
					return Message{}, err
				}
				fields[key.String()] = m
			}
			return Message{Kind: KindObject, Fields: fields}, nil
		}
	}
	return Message{}, otterrors.New(otterrors.Type, "value is not structured-cloneable")
}

// Materialize rematerializes m as a Value rooted in vm's heap, the inverse
// of Clone performed by the receiving side of a channel/port/broadcast.
func Materialize(vm *interpreter.VM, m Message) (value.Value, error) {
	switch m.Kind {
	case KindUndefined:
		return value.Undefined, nil
	case KindNull:
		return value.Null, nil
	case KindBool:
		return value.Bool(m.Bool), nil
	case KindNumber:
		return value.Double(m.Number), nil
	case KindString:
		return vm.BoxString(m.Str), nil
	case KindArray:
		arr := object.NewArray()
		if vm.ArrayPrototype != nil {
			arr.Prototype = vm.ArrayPrototype
		}
		for _, item := range m.Items {
			v, err := Materialize(vm, item)
			if err != nil {
				return value.Undefined, err
			}
			arr.AppendElements(v)
		}
		ref, err := vm.Heap.Alloc(value.KindArray, arr)
		if err != nil {
			return value.Undefined, err
		}
		return value.Pointer(value.KindArray, ref), nil
	case KindObject:
		obj := object.New()
		for k, fieldMsg := range m.Fields {
			v, err := Materialize(vm, fieldMsg)
			if err != nil {
				return value.Undefined, err
			}
			obj.Set(shape.StringKey(k), v)
		}
		ref, err := vm.Heap.Alloc(value.KindObject, obj)
		if err != nil {
			return value.Undefined, err
		}
		return value.Pointer(value.KindObject, ref), nil
	default:
		return value.Undefined, otterrors.New(otterrors.Internal, "unknown message kind")
	}
}
