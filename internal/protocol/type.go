package protocol

import (
	"reflect"
	"slices"
	"sync"
)

// Event names a type notification.
type Event string

const (
	// EventNewInstance is emitted when an instance of the type is announced.
	EventNewInstance Event = "new-instance"
	// EventValueChanged is emitted when a protocol value or an instance field
	// changes.
	EventValueChanged Event = "value-changed"
)

// Notification is the payload of a type event.
type Notification struct {
	Type *Type
	// Instance is nil for type-level changes.
	Instance any
	// Name is the changed value or field.
	Name  string
	Value any
}

// Listener receives type notifications.
type Listener func(Notification)

// Property is a named member installed on a type. Exactly one of Static and
// Computed should be set; Computed wins when both are.
type Property struct {
	Static   any
	Computed func(instance any) any
}

// Type is the stable identifier of an object type in a Registry.
//
// A Type carries the augmentation surface protocols need: installed
// properties, per-token protocol values, and the new-instance and
// value-changed notifications.
type Type struct {
	name  string
	rtype reflect.Type

	mu        sync.RWMutex
	props     map[string]Property
	values    map[Token]any
	listeners map[Event][]Listener
}

func newType(name string, rtype reflect.Type) *Type {
	return &Type{
		name:      name,
		rtype:     rtype,
		props:     make(map[string]Property),
		values:    make(map[Token]any),
		listeners: make(map[Event][]Listener),
	}
}

// Name returns the registered type name.
func (t *Type) Name() string { return t.name }

// GoType returns the Go type instances are matched by, or nil for abstract types.
func (t *Type) GoType() reflect.Type { return t.rtype }

func (t *Type) String() string { return t.name }

// Install adds a property. Installing the same name twice is a DefinitionError.
func (t *Type) Install(name string, prop Property) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.props[name]; ok {
		return &DefinitionError{
			Code:    ErrCodeDuplicateProperty,
			Type:    t.name,
			Member:  name,
			Message: "property already installed",
		}
	}
	t.props[name] = prop
	return nil
}

// Property evaluates the named property for instance (nil for the type itself).
func (t *Type) Property(name string, instance any) (any, bool) {
	t.mu.RLock()
	prop, ok := t.props[name]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if prop.Computed != nil {
		return prop.Computed(instance), true
	}
	return prop.Static, true
}

// Properties returns the installed property names, sorted.
func (t *Type) Properties() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.props))
	for name := range t.props {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// On subscribes fn to event. Listeners run synchronously in subscription order.
func (t *Type) On(event Event, fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[event] = append(t.listeners[event], fn)
}

// Emit delivers n to every listener of event. n.Type is set to t.
func (t *Type) Emit(event Event, n Notification) {
	t.mu.RLock()
	ls := slices.Clone(t.listeners[event])
	t.mu.RUnlock()

	n.Type = t
	for _, fn := range ls {
		fn(n)
	}
}

// Announce emits new-instance for instance.
func (t *Type) Announce(instance any) {
	t.Emit(EventNewInstance, Notification{Instance: instance})
}

// Changed emits value-changed for a field of instance.
func (t *Type) Changed(instance any, field string, value any) {
	t.Emit(EventValueChanged, Notification{Instance: instance, Name: field, Value: value})
}

func (t *Type) value(tok Token) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[tok]
	return v, ok
}

func (t *Type) setValue(tok Token, v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[tok] = v
}
