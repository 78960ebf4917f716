package protocol

import (
	"fmt"
	"reflect"
)

// MaxDelegationDepth bounds delegation chains whose instances cannot be
// compared for cycle detection.
const MaxDelegationDepth = 64

// Redirect tells the registry where an instance forwards its capability
// lookups. Build one with ViaFunc or ViaField.
type Redirect struct {
	fn    func(instance any) any
	field string
}

// ViaFunc redirects through a getter.
func ViaFunc(fn func(instance any) any) Redirect {
	return Redirect{fn: fn}
}

// ViaField redirects through a named member: an installed property of the
// type if there is one, otherwise an exported struct field.
func ViaField(name string) Redirect {
	return Redirect{field: name}
}

func (d Redirect) String() string {
	if d.fn != nil {
		return "func"
	}
	return "field " + d.field
}

func (d Redirect) follow(t *Type, instance any) (any, error) {
	if d.fn != nil {
		return d.fn(instance), nil
	}
	if v, ok := t.Property(d.field, instance); ok {
		return v, nil
	}

	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil %s has no field %q", rv.Type(), d.field)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s has no field %q", rv.Type(), d.field)
	}
	f := rv.FieldByName(d.field)
	if !f.IsValid() || !f.CanInterface() {
		return nil, fmt.Errorf("%s has no exported field %q", rv.Type(), d.field)
	}
	return f.Interface(), nil
}

// Delegate makes every capability lookup on instances of t resolve against
// the object the redirect yields. Delegation is followed transitively.
// Registering a second redirect for t replaces the first.
func (r *Registry) Delegate(t *Type, d Redirect) error {
	if d.fn == nil && d.field == "" {
		return &DefinitionError{Code: ErrCodeInvalidName, Type: t.name, Message: "empty delegation"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegates[t] = d
	return nil
}

// Context is the resolved dispatch context.
type Context struct {
	Type *Type
	// Instance is nil when dispatching on the type itself.
	Instance any
}

// Target returns what implementations receive: the instance, or the type
// for type-level dispatch.
func (c Context) Target() any {
	if c.Instance != nil {
		return c.Instance
	}
	return c.Type
}

// ResolveContext follows delegation from target until an instance whose type
// has no redirect is reached.
//
// A *Type target is never redirected: redirects read from instances.
func (r *Registry) ResolveContext(target any) (Context, error) {
	var (
		seen  = make(map[any]bool)
		chain []string
		cur   = target
	)
	for depth := 0; ; depth++ {
		t, ok := r.TypeOf(cur)
		if !ok {
			return Context{}, &LookupError{Target: describe(cur), Message: "not a registered type or an instance of one"}
		}
		ctx := Context{Type: t}
		if _, isType := cur.(*Type); !isType {
			ctx.Instance = cur
		}
		chain = append(chain, t.name)

		r.mu.RLock()
		d, delegated := r.delegates[t]
		r.mu.RUnlock()
		if !delegated || ctx.Instance == nil {
			return ctx, nil
		}

		if depth >= MaxDelegationDepth {
			return Context{}, &DelegationCycleError{Chain: chain}
		}
		// Values that cannot be hashed fall back to the depth bound.
		if runtimeComparable(cur) {
			if seen[cur] {
				return Context{}, &DelegationCycleError{Chain: chain}
			}
			seen[cur] = true
		}

		next, err := d.follow(t, cur)
		if err != nil {
			return Context{}, &LookupError{Target: describe(cur), Message: fmt.Sprintf("delegate via %s: %v", d, err)}
		}
		if isNil(next) {
			return Context{}, &LookupError{Target: describe(cur), Message: fmt.Sprintf("delegate via %s returned nil", d)}
		}
		cur = next
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func describe(v any) string {
	if t, ok := v.(*Type); ok && t != nil {
		return t.name
	}
	return fmt.Sprintf("%T", v)
}
