package protocol

import (
	"fmt"
	"sync"
)

// DefaultPriority is the priority of implementations registered without
// WithPriority.
const DefaultPriority = 500

// Hook is a first-use hook. It runs once per type, on the first registration
// of the method (or the defaulting of the value) it belongs to.
type Hook func(t *Type) error

// MethodDef is a declared protocol method.
type MethodDef struct {
	Name     string
	Mode     Mode
	Default  any
	FirstUse Hook
	token    Token
}

// Token returns the method's private key.
func (m *MethodDef) Token() Token { return m.token }

// ValueDef is a declared protocol value.
type ValueDef struct {
	Name       string
	Default    any
	Accumulate bool
	FirstUse   Hook
	token      Token
}

// Token returns the value's private key.
func (v *ValueDef) Token() Token { return v.token }

// Protocol is a named set of methods and values that types can be attached to.
//
// Members keep their declaration order. Declaring a member twice with the
// same shape is a no-op that returns the existing definition; declaring it
// with a different mode or accumulate flag is a DefinitionError.
//
// Thread-safety: safe for concurrent use, but protocols are meant to be
// composed once at start-up.
type Protocol struct {
	name     string
	requires []*Protocol

	mu          sync.RWMutex
	methods     []*MethodDef
	methodIndex map[string]*MethodDef
	values      []*ValueDef
	valueIndex  map[string]*ValueDef
}

// Option configures a Protocol.
type Option func(*Protocol)

// Requires declares protocols that must be attached before this one.
func Requires(ps ...*Protocol) Option {
	return func(p *Protocol) {
		p.requires = append(p.requires, ps...)
	}
}

// New creates an empty protocol.
func New(name string, opts ...Option) *Protocol {
	p := &Protocol{
		name:        name,
		methodIndex: make(map[string]*MethodDef),
		valueIndex:  make(map[string]*ValueDef),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the protocol name.
func (p *Protocol) Name() string { return p.name }

// Requires returns the required protocols in declaration order.
func (p *Protocol) Requires() []*Protocol {
	return append([]*Protocol(nil), p.requires...)
}

// MemberOption configures a method or value declaration.
type MemberOption func(*memberConfig)

type memberConfig struct {
	def        any
	hasDefault bool
	accumulate bool
	hook       Hook
}

// WithDefault sets the default implementation of a method or the default
// value of a value.
func WithDefault(v any) MemberOption {
	return func(c *memberConfig) {
		c.def = v
		c.hasDefault = true
	}
}

// Accumulate makes SetValue append to a value instead of replacing it.
// Only valid on values.
func Accumulate() MemberOption {
	return func(c *memberConfig) {
		c.accumulate = true
	}
}

// OnFirstUse sets the member's first-use hook.
func OnFirstUse(h Hook) MemberOption {
	return func(c *memberConfig) {
		c.hook = h
	}
}

// Method declares a method with the given dispatch mode.
func (p *Protocol) Method(name string, mode Mode, opts ...MemberOption) (*MethodDef, error) {
	if name == "" {
		return nil, p.defErr(ErrCodeInvalidName, name, "method name is empty")
	}
	if !mode.Valid() {
		return nil, p.defErr(ErrCodeIncompatibleMember, name, fmt.Sprintf("unknown dispatch mode %q", mode))
	}

	var cfg memberConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.accumulate {
		return nil, p.defErr(ErrCodeInvalidDefault, name, "accumulate applies to values only")
	}

	var def any
	if cfg.hasDefault && cfg.def != nil {
		fn, ok := normalize(mode, cfg.def)
		if !ok {
			return nil, p.defErr(ErrCodeInvalidDefault, name,
				fmt.Sprintf("default %T does not match mode %s", cfg.def, mode))
		}
		def = fn
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, clash := p.valueIndex[name]; clash {
		return nil, p.defErr(ErrCodeIncompatibleMember, name, "already declared as a value")
	}
	if existing, ok := p.methodIndex[name]; ok {
		if existing.Mode != mode {
			return nil, p.defErr(ErrCodeIncompatibleMember, name,
				fmt.Sprintf("redeclared as %s, was %s", mode, existing.Mode))
		}
		return existing, nil
	}

	m := &MethodDef{
		Name:     name,
		Mode:     mode,
		Default:  def,
		FirstUse: cfg.hook,
		token:    newToken(),
	}
	p.methods = append(p.methods, m)
	p.methodIndex[name] = m
	return m, nil
}

// Value declares a value.
func (p *Protocol) Value(name string, opts ...MemberOption) (*ValueDef, error) {
	if name == "" {
		return nil, p.defErr(ErrCodeInvalidName, name, "value name is empty")
	}

	var cfg memberConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, clash := p.methodIndex[name]; clash {
		return nil, p.defErr(ErrCodeIncompatibleMember, name, "already declared as a method")
	}
	if existing, ok := p.valueIndex[name]; ok {
		if existing.Accumulate != cfg.accumulate {
			return nil, p.defErr(ErrCodeIncompatibleMember, name, "redeclared with a different accumulate flag")
		}
		return existing, nil
	}

	v := &ValueDef{
		Name:       name,
		Default:    cfg.def,
		Accumulate: cfg.accumulate,
		FirstUse:   cfg.hook,
		token:      newToken(),
	}
	p.values = append(p.values, v)
	p.valueIndex[name] = v
	return v, nil
}

// MustMethod is Method that panics on error, for package-level declarations.
func (p *Protocol) MustMethod(name string, mode Mode, opts ...MemberOption) *MethodDef {
	m, err := p.Method(name, mode, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// MustValue is Value that panics on error, for package-level declarations.
func (p *Protocol) MustValue(name string, opts ...MemberOption) *ValueDef {
	v, err := p.Value(name, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// LookupMethod returns the method declared under name.
func (p *Protocol) LookupMethod(name string) (*MethodDef, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.methodIndex[name]
	return m, ok
}

// LookupValue returns the value declared under name.
func (p *Protocol) LookupValue(name string) (*ValueDef, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.valueIndex[name]
	return v, ok
}

// Methods returns the declared methods in declaration order.
func (p *Protocol) Methods() []*MethodDef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*MethodDef(nil), p.methods...)
}

// Values returns the declared values in declaration order.
func (p *Protocol) Values() []*ValueDef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*ValueDef(nil), p.values...)
}

func (p *Protocol) defErr(code DefinitionErrorCode, member, msg string) *DefinitionError {
	return &DefinitionError{Code: code, Protocol: p.name, Member: member, Message: msg}
}
