package protocol

import (
	"cmp"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
)

// Registry holds types, protocols, attachments and implementations.
//
// The registry is written while the model is composed (DefineType, Attach,
// Implement, Delegate) and read on every dispatch. Hooks and listeners run
// outside the registry lock, so they may call back into the registry.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	logger *slog.Logger
	tracer Tracer
	cache  Cache
	sched  flow.Scheduler
	ids    IDGenerator
	clock  *flow.Clock

	mu        sync.RWMutex
	types     map[reflect.Type]*Type
	typeNames map[string]*Type
	protocols map[string]*Protocol
	specs     map[string]ir.ProtocolSpec
	attached  map[attachKey]bool
	impls     map[implKey][]implementation
	hooked    map[implKey]bool // members whose first-use work completed
	delegates map[*Type]Redirect
	onAttach  []func(t *Type, p *Protocol)
	seq       uint64
}

type attachKey struct {
	t *Type
	p *Protocol
}

type implKey struct {
	t   *Type
	tok Token
}

type implementation struct {
	fn       any
	priority int
	seq      uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTracer records every dispatch.
func WithTracer(t Tracer) RegistryOption {
	return func(r *Registry) {
		r.tracer = t
	}
}

// WithCache sets the derived-value cache used by cached and async methods.
func WithCache(c Cache) RegistryOption {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithScheduler sets the scheduler handed to async_flow pipelines.
func WithScheduler(s flow.Scheduler) RegistryOption {
	return func(r *Registry) {
		r.sched = s
	}
}

// WithIDGenerator sets the call id generator used for traces.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) RegistryOption {
	return func(r *Registry) {
		r.ids = g
	}
}

// WithClock sets the logical clock that stamps trace records, for example
// one resumed with flow.NewClockAt when appending to an existing trace.
func WithClock(c *flow.Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = c
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:    slog.Default(),
		ids:       UUIDv7Generator{},
		clock:     flow.NewClock(),
		types:     make(map[reflect.Type]*Type),
		typeNames: make(map[string]*Type),
		protocols: make(map[string]*Protocol),
		specs:     make(map[string]ir.ProtocolSpec),
		attached:  make(map[attachKey]bool),
		impls:     make(map[implKey][]implementation),
		hooked:    make(map[implKey]bool),
		delegates: make(map[*Type]Redirect),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scheduler returns the scheduler given with WithScheduler, or nil.
func (r *Registry) Scheduler() flow.Scheduler { return r.sched }

// DefineType registers an object type. Instances are matched by the Go type
// of sample, so pass a pointer if instances are pointers. A nil sample
// defines an abstract type that can only be dispatched on directly.
func (r *Registry) DefineType(name string, sample any) (*Type, error) {
	if name == "" {
		return nil, &DefinitionError{Code: ErrCodeInvalidName, Message: "type name is empty"}
	}

	var rtype reflect.Type
	if sample != nil {
		rtype = reflect.TypeOf(sample)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.typeNames[name]; ok {
		return nil, &DefinitionError{Code: ErrCodeDuplicateType, Type: name, Message: "type name already registered"}
	}
	if rtype != nil {
		if prev, ok := r.types[rtype]; ok {
			return nil, &DefinitionError{
				Code:    ErrCodeDuplicateType,
				Type:    name,
				Message: fmt.Sprintf("Go type %s already registered as %s", rtype, prev.name),
			}
		}
	}

	t := newType(name, rtype)
	r.typeNames[name] = t
	if rtype != nil {
		r.types[rtype] = t
	}
	return t, nil
}

// TypeByName returns the type registered under name.
func (r *Registry) TypeByName(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.typeNames[name]
	return t, ok
}

// TypeOf returns the type of target: target itself when it is a *Type,
// otherwise the type registered for its Go type.
func (r *Registry) TypeOf(target any) (*Type, bool) {
	if t, ok := target.(*Type); ok {
		return t, t != nil
	}
	if target == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[reflect.TypeOf(target)]
	return t, ok
}

// Register makes a code-declared protocol available by name, for Define
// requirements and scenario files. Registering the same protocol twice is a
// no-op.
func (r *Registry) Register(p *Protocol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(p)
}

func (r *Registry) registerLocked(p *Protocol) error {
	if p.name == "" {
		return &DefinitionError{Code: ErrCodeInvalidName, Message: "protocol name is empty"}
	}
	if prev, ok := r.protocols[p.name]; ok {
		if prev == p {
			return nil
		}
		return &DefinitionError{Code: ErrCodeDuplicateProtocol, Protocol: p.name, Message: "a different protocol has this name"}
	}
	r.protocols[p.name] = p
	return nil
}

// ProtocolByName returns the registered protocol.
func (r *Registry) ProtocolByName(name string) (*Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[name]
	return p, ok
}

// Define builds a Protocol from its IR and registers it. Every requirement
// must already be registered. Defining an identical spec twice returns the
// existing protocol.
func (r *Registry) Define(spec ir.ProtocolSpec) (*Protocol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.specs[spec.Name]; ok {
		if ir.MustSpecHash([]ir.ProtocolSpec{prev}) == ir.MustSpecHash([]ir.ProtocolSpec{spec}) {
			return r.protocols[spec.Name], nil
		}
		return nil, &DefinitionError{Code: ErrCodeDuplicateProtocol, Protocol: spec.Name, Message: "redefined with a different shape"}
	}

	var reqs []*Protocol
	for _, name := range spec.Requires {
		req, ok := r.protocols[name]
		if !ok {
			return nil, &DefinitionError{
				Code:     ErrCodeMissingRequirement,
				Protocol: spec.Name,
				Message:  fmt.Sprintf("requires undefined protocol %q", name),
			}
		}
		reqs = append(reqs, req)
	}

	p := New(spec.Name, Requires(reqs...))
	for _, m := range spec.Methods {
		if _, err := p.Method(m.Name, Mode(m.Mode)); err != nil {
			return nil, err
		}
	}
	for _, v := range spec.Values {
		var opts []MemberOption
		if v.Default != nil {
			opts = append(opts, WithDefault(ir.ToGo(v.Default)))
		}
		if v.Accumulate {
			opts = append(opts, Accumulate())
		}
		if _, err := p.Value(v.Name, opts...); err != nil {
			return nil, err
		}
	}

	if err := r.registerLocked(p); err != nil {
		return nil, err
	}
	stored := spec
	stored.Requires = slices.Clone(spec.Requires)
	stored.Methods = slices.Clone(spec.Methods)
	stored.Values = slices.Clone(spec.Values)
	r.specs[spec.Name] = stored
	return p, nil
}

// OnAttach subscribes fn to attach notifications.
func (r *Registry) OnAttach(fn func(t *Type, p *Protocol)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAttach = append(r.onAttach, fn)
}

// Attached reports whether p is attached to t.
func (r *Registry) Attached(t *Type, p *Protocol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attached[attachKey{t, p}]
}

// Attach records that t supports p.
//
// Attach is idempotent. Required protocols are attached first. Every value
// with a non-nil default is written onto t and its first-use hook fires.
// If a value hook fails, p stays unattached; the next Attach resumes at that
// value and does not rerun hooks that already succeeded.
func (r *Registry) Attach(t *Type, p *Protocol) error {
	return r.attach(t, p, nil)
}

func (r *Registry) attach(t *Type, p *Protocol, chain []*Protocol) error {
	if r.Attached(t, p) {
		return nil
	}
	if slices.Contains(chain, p) {
		names := make([]string, 0, len(chain)+1)
		for _, c := range chain {
			names = append(names, c.name)
		}
		return &DefinitionError{
			Code:     ErrCodeRequiresCycle,
			Protocol: p.name,
			Type:     t.name,
			Message:  fmt.Sprintf("requires cycle through %v", append(names, p.name)),
		}
	}

	chain = append(chain, p)
	for _, req := range p.requires {
		if err := r.attach(t, req, chain); err != nil {
			return err
		}
	}

	r.mu.Lock()
	if r.attached[attachKey{t, p}] {
		r.mu.Unlock()
		return nil
	}
	r.attached[attachKey{t, p}] = true
	listeners := slices.Clone(r.onAttach)
	r.mu.Unlock()

	for _, v := range p.Values() {
		if v.Default == nil {
			continue
		}
		key := implKey{t, v.token}
		r.mu.RLock()
		done := r.hooked[key]
		r.mu.RUnlock()
		if done {
			continue
		}
		t.setValue(v.token, cloneDefault(v.Default))
		if v.FirstUse != nil {
			if err := v.FirstUse(t); err != nil {
				// Not attached: the next Attach retries from this value.
				r.mu.Lock()
				delete(r.attached, attachKey{t, p})
				r.mu.Unlock()
				return &DefinitionError{
					Code: ErrCodeHookFailed, Protocol: p.name, Member: v.Name, Type: t.name,
					Message: "value first-use hook failed", Err: err,
				}
			}
		}
		r.mu.Lock()
		r.hooked[key] = true
		r.mu.Unlock()
	}

	r.logger.Debug("protocol attached", "type", t.name, "protocol", p.name)
	for _, fn := range listeners {
		fn(t, p)
	}
	return nil
}

// cloneDefault copies slice and map defaults so accumulating values never
// share backing storage between types.
func cloneDefault(v any) any {
	switch d := v.(type) {
	case []any:
		return slices.Clone(d)
	case map[string]any:
		out := make(map[string]any, len(d))
		for k, e := range d {
			out[k] = e
		}
		return out
	}
	return v
}

// ImplOption configures one implementation.
type ImplOption func(*implementation)

// WithPriority sets the implementation priority. Higher runs first.
func WithPriority(priority int) ImplOption {
	return func(i *implementation) {
		i.priority = priority
	}
}

// Implement registers fn for method of p on t.
//
// fn must match the method's mode (see Func, flow.Step, flow.DeferredStep,
// ComputeFunc, AsyncComputeFunc). p is attached to t if it was not yet. The
// method's first-use hook fires on the first registration for (t, method)
// only; if it fails, fn is not registered and the next Implement runs the
// hook again. Implementations are kept in descending priority; equal priorities
// keep registration order.
func (r *Registry) Implement(t *Type, p *Protocol, method string, fn any, opts ...ImplOption) error {
	m, ok := p.LookupMethod(method)
	if !ok {
		return &DefinitionError{Code: ErrCodeUnknownMember, Protocol: p.name, Member: method, Type: t.name, Message: "method not declared"}
	}
	norm, ok := normalize(m.Mode, fn)
	if !ok {
		return &DefinitionError{
			Code: ErrCodeInvalidImplementation, Protocol: p.name, Member: method, Type: t.name,
			Message: fmt.Sprintf("%T cannot implement a %s method", fn, m.Mode),
		}
	}

	if err := r.Attach(t, p); err != nil {
		return err
	}

	key := implKey{t, m.token}
	r.mu.Lock()
	first := !r.hooked[key]
	r.hooked[key] = true
	r.mu.Unlock()

	if first && m.FirstUse != nil {
		r.logger.Debug("first-use hook", "type", t.name, "protocol", p.name, "method", method)
		if err := m.FirstUse(t); err != nil {
			// The next Implement retries the hook.
			r.mu.Lock()
			delete(r.hooked, key)
			r.mu.Unlock()
			return &DefinitionError{
				Code: ErrCodeHookFailed, Protocol: p.name, Member: method, Type: t.name,
				Message: "method first-use hook failed", Err: err,
			}
		}
	}

	impl := implementation{fn: norm, priority: DefaultPriority}
	for _, opt := range opts {
		opt(&impl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	impl.seq = r.seq
	list := append(r.impls[key], impl)
	slices.SortStableFunc(list, func(a, b implementation) int {
		return cmp.Compare(b.priority, a.priority)
	})
	r.impls[key] = list
	return nil
}

// SetValue writes a protocol value on t and emits value-changed.
// Accumulating values append v instead of replacing.
func (r *Registry) SetValue(t *Type, p *Protocol, name string, v any) error {
	def, ok := p.LookupValue(name)
	if !ok {
		return &DefinitionError{Code: ErrCodeUnknownMember, Protocol: p.name, Member: name, Type: t.name, Message: "value not declared"}
	}
	if err := r.Attach(t, p); err != nil {
		return err
	}

	next := v
	if def.Accumulate {
		cur, _ := t.value(def.token)
		var list []any
		switch c := cur.(type) {
		case nil:
		case []any:
			list = slices.Clone(c)
		default:
			list = []any{c}
		}
		next = append(list, v)
	}
	t.setValue(def.token, next)
	t.Emit(EventValueChanged, Notification{Name: name, Value: next})
	return nil
}

// Value reads a protocol value from t.
func (r *Registry) Value(t *Type, p *Protocol, name string) (any, error) {
	def, ok := p.LookupValue(name)
	if !ok {
		return nil, &DefinitionError{Code: ErrCodeUnknownMember, Protocol: p.name, Member: name, Type: t.name, Message: "value not declared"}
	}
	v, _ := t.value(def.token)
	return v, nil
}
