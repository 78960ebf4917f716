package protocol

// BoundMethod is a protocol method bound to a dispatch target. Accessor
// installs one per instance so callers can invoke a method without naming
// the registry or the protocol.
type BoundMethod struct {
	reg      *Registry
	target   any
	protocol *Protocol
	method   string
}

// Call dispatches the method with its declared mode.
func (b BoundMethod) Call(args ...any) (any, error) {
	return b.reg.Invoke(b.target, b.protocol, b.method, args...)
}

// Target returns the bound target.
func (b BoundMethod) Target() any { return b.target }

// Accessor returns a first-use hook that installs method as a property of
// the type. Reading the property yields a BoundMethod for the instance, or
// for the type itself when read without one.
func Accessor(reg *Registry, p *Protocol, method string) Hook {
	return func(t *Type) error {
		return t.Install(method, Property{
			Computed: func(instance any) any {
				target := instance
				if target == nil {
					target = t
				}
				return BoundMethod{reg: reg, target: target, protocol: p, method: method}
			},
		})
	}
}

// Call reads the BoundMethod installed on target's type under name and calls
// it.
func (r *Registry) Call(target any, name string, args ...any) (any, error) {
	t, ok := r.TypeOf(target)
	if !ok {
		return nil, &LookupError{Target: describe(target), Message: "not a registered type or an instance of one"}
	}
	instance := target
	if _, isType := target.(*Type); isType {
		instance = nil
	}
	v, ok := t.Property(name, instance)
	if !ok {
		return nil, &LookupError{Target: t.name, Message: "no property " + name}
	}
	bound, ok := v.(BoundMethod)
	if !ok {
		return nil, &LookupError{Target: t.name, Message: "property " + name + " is not a method"}
	}
	return bound.Call(args...)
}
