package protocol

import (
	"fmt"
	"reflect"
)

// valueKey stands in for a target that cannot be a map key itself.
type valueKey struct {
	typ  reflect.Type
	repr string
}

// IdentityKey returns a map key for a dispatch target.
//
// A target whose runtime value is comparable is its own key, so pointers key
// by address and plain values by equality. Anything else (slices, maps,
// structs whose interface fields hold such values) keys by its type and its
// %#v rendering: equal contents share a key, nested pointers still compare
// by address. A nil target has no key.
func IdentityKey(target any) (any, bool) {
	if target == nil {
		return nil, false
	}
	if runtimeComparable(target) {
		return target, true
	}
	return valueKey{typ: reflect.TypeOf(target), repr: fmt.Sprintf("%#v", target)}, true
}

// runtimeComparable reports whether v can be hashed without panicking.
// reflect.Type.Comparable is not enough: an interface field holding a slice
// passes the type check and panics as a map key.
func runtimeComparable(v any) bool {
	return v != nil && reflect.ValueOf(v).Comparable()
}
