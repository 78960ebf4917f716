package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoflow/internal/ir"
)

func TestRegistry_DefineTypeDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	mustType(t, r, "Widget", &widget{})

	_, err := r.DefineType("Widget", nil)
	assert.True(t, IsDefinitionError(err, ErrCodeDuplicateType))

	_, err = r.DefineType("Other", &widget{})
	assert.True(t, IsDefinitionError(err, ErrCodeDuplicateType))

	_, err = r.DefineType("", nil)
	assert.True(t, IsDefinitionError(err, ErrCodeInvalidName))
}

func TestRegistry_TypeOf(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})

	got, ok := r.TypeOf(&widget{ID: "w1"})
	require.True(t, ok)
	assert.Same(t, wt, got)

	got, ok = r.TypeOf(wt)
	require.True(t, ok)
	assert.Same(t, wt, got)

	_, ok = r.TypeOf(widget{})
	assert.False(t, ok, "value and pointer types are distinct")

	_, ok = r.TypeOf(nil)
	assert.False(t, ok)
}

func TestRegistry_ImplementationOrder(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})
	p := New("Hooks")
	p.MustMethod("run", ModeAll)

	var order []string
	impl := func(label string) Func {
		return func(target any, args ...any) any {
			order = append(order, label)
			return true
		}
	}

	require.NoError(t, r.Implement(wt, p, "run", impl("300"), WithPriority(300)))
	require.NoError(t, r.Implement(wt, p, "run", impl("700a"), WithPriority(700)))
	require.NoError(t, r.Implement(wt, p, "run", impl("700b"), WithPriority(700)))
	require.NoError(t, r.Implement(wt, p, "run", impl("100"), WithPriority(100)))

	_, err := r.All(wt, p, "run")
	require.NoError(t, err)
	assert.Equal(t, []string{"700a", "700b", "300", "100"}, order)
}

func TestRegistry_ExtremePriorities(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})
	p := New("Hooks")
	p.MustMethod("run", ModeAll)

	var order []string
	add := func(label string, priority int) {
		require.NoError(t, r.Implement(wt, p, "run", func(any, ...any) any {
			order = append(order, label)
			return nil
		}, WithPriority(priority)))
	}
	add("min", math.MinInt)
	add("one", 1)
	add("max", math.MaxInt)

	_, err := r.All(wt, p, "run")
	require.NoError(t, err)
	assert.Equal(t, []string{"max", "one", "min"}, order)
}

func TestRegistry_DefaultPriority(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})
	p := New("Hooks")
	p.MustMethod("run", ModeAll)

	var order []string
	add := func(label string, opts ...ImplOption) {
		require.NoError(t, r.Implement(wt, p, "run", func(any, ...any) any {
			order = append(order, label)
			return nil
		}, opts...))
	}
	add("default")
	add("low", WithPriority(DefaultPriority-1))
	add("high", WithPriority(DefaultPriority+1))

	_, err := r.All(wt, p, "run")
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "default", "low"}, order)
}

func TestRegistry_FirstUseHookFiresOnce(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})
	gt := mustType(t, r, "Gadget", &gadget{})

	var fired []string
	p := New("Store")
	p.MustMethod("find", ModeSingle, OnFirstUse(func(typ *Type) error {
		fired = append(fired, typ.Name())
		return nil
	}))

	noop := func(any, ...any) any { return nil }
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Implement(wt, p, "find", noop))
	}
	assert.Equal(t, []string{"Widget"}, fired, "hook fires once per type, on the first registration")

	require.NoError(t, r.Implement(gt, p, "find", noop))
	assert.Equal(t, []string{"Widget", "Gadget"}, fired)
}

func TestRegistry_FirstUseHookError(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})
	boom := errors.New("boom")

	p := New("Store")
	p.MustMethod("find", ModeSingle, OnFirstUse(func(*Type) error { return boom }))

	err := r.Implement(wt, p, "find", func(any, ...any) any { return nil })
	assert.True(t, IsDefinitionError(err, ErrCodeHookFailed))
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_FailedMethodHookRetries(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})

	attempts := 0
	p := New("Store")
	p.MustMethod("find", ModeSingle, OnFirstUse(func(*Type) error {
		attempts++
		if attempts == 1 {
			return errors.New("not yet")
		}
		return nil
	}))

	find := func(any, ...any) any { return "found" }
	err := r.Implement(wt, p, "find", find)
	require.True(t, IsDefinitionError(err, ErrCodeHookFailed))

	require.NoError(t, r.Implement(wt, p, "find", find))
	require.NoError(t, r.Implement(wt, p, "find", find))
	assert.Equal(t, 2, attempts)

	got, err := r.Single(wt, p, "find")
	require.NoError(t, err)
	assert.Equal(t, "found", got)
}

func TestRegistry_FailedValueHookLeavesProtocolUnattached(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})

	var fired []string
	failLabel := true
	p := New("Settings")
	p.MustValue("theme", WithDefault("light"), OnFirstUse(func(*Type) error {
		fired = append(fired, "theme")
		return nil
	}))
	p.MustValue("label", WithDefault("none"), OnFirstUse(func(*Type) error {
		fired = append(fired, "label")
		if failLabel {
			return errors.New("not yet")
		}
		return nil
	}))

	err := r.Attach(wt, p)
	require.True(t, IsDefinitionError(err, ErrCodeHookFailed))
	assert.False(t, r.Attached(wt, p))

	failLabel = false
	require.NoError(t, r.Attach(wt, p))
	assert.True(t, r.Attached(wt, p))
	assert.Equal(t, []string{"theme", "label", "label"}, fired, "succeeded hooks do not rerun")

	require.NoError(t, r.Attach(wt, p))
	assert.Len(t, fired, 3)
}

func TestRegistry_ImplementValidation(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})
	p := New("Store")
	p.MustMethod("find", ModeAsyncFlow)

	err := r.Implement(wt, p, "missing", func(any, ...any) any { return nil })
	assert.True(t, IsDefinitionError(err, ErrCodeUnknownMember))

	err = r.Implement(wt, p, "find", func(any, ...any) any { return nil })
	assert.True(t, IsDefinitionError(err, ErrCodeInvalidImplementation))
	assert.False(t, r.Attached(wt, p), "a rejected implementation must not attach")
}

func TestRegistry_AttachRequiresFirst(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})

	identity := New("Identity")
	store := New("Store", Requires(identity))

	var attached []string
	r.OnAttach(func(typ *Type, p *Protocol) {
		attached = append(attached, typ.Name()+"/"+p.Name())
	})

	require.NoError(t, r.Attach(wt, store))
	require.NoError(t, r.Attach(wt, store))

	assert.Equal(t, []string{"Widget/Identity", "Widget/Store"}, attached, "requirements attach first, and only once")
	assert.True(t, r.Attached(wt, identity))
}

func TestRegistry_AttachRequiresCycle(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})

	a := New("A")
	b := New("B", Requires(a))
	a.requires = append(a.requires, b)

	err := r.Attach(wt, a)
	assert.True(t, IsDefinitionError(err, ErrCodeRequiresCycle))
}

func TestRegistry_AttachWritesDefaultsAndFiresValueHooks(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})

	hooks := 0
	p := New("Store")
	p.MustValue("fields", Accumulate(), WithDefault([]any{}), OnFirstUse(func(*Type) error {
		hooks++
		return nil
	}))
	p.MustValue("label", OnFirstUse(func(*Type) error {
		hooks += 100
		return nil
	}))

	require.NoError(t, r.Attach(wt, p))
	require.NoError(t, r.Attach(wt, p))
	assert.Equal(t, 1, hooks, "only values with a default are defaulted")

	v, err := r.Value(wt, p, "fields")
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)

	v, err = r.Value(wt, p, "label")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRegistry_SetValueAccumulates(t *testing.T) {
	r := newTestRegistry(t)
	wt := mustType(t, r, "Widget", &widget{})
	gt := mustType(t, r, "Gadget", &gadget{})

	p := New("Store")
	p.MustValue("fields", Accumulate(), WithDefault([]any{}))
	p.MustValue("table")

	var changes []Notification
	wt.On(EventValueChanged, func(n Notification) { changes = append(changes, n) })

	require.NoError(t, r.SetValue(wt, p, "fields", "id"))
	require.NoError(t, r.SetValue(wt, p, "fields", "name"))
	require.NoError(t, r.SetValue(wt, p, "table", "widgets"))
	require.NoError(t, r.SetValue(wt, p, "table", "things"))

	fields, _ := r.Value(wt, p, "fields")
	assert.Equal(t, []any{"id", "name"}, fields)
	table, _ := r.Value(wt, p, "table")
	assert.Equal(t, "things", table)

	require.NoError(t, r.Attach(gt, p))
	gadgetFields, _ := r.Value(gt, p, "fields")
	assert.Equal(t, []any{}, gadgetFields, "defaults are not shared between types")

	require.Len(t, changes, 4)
	assert.Equal(t, "fields", changes[0].Name)
	assert.Same(t, wt, changes[0].Type)
	assert.Nil(t, changes[0].Instance)

	err := r.SetValue(wt, p, "nope", 1)
	assert.True(t, IsDefinitionError(err, ErrCodeUnknownMember))
}

func TestRegistry_Define(t *testing.T) {
	r := newTestRegistry(t)

	identity, err := r.Define(ir.ProtocolSpec{
		Name:    "Identity",
		Methods: []ir.MethodSpec{{Name: "id", Mode: "single"}},
	})
	require.NoError(t, err)

	store, err := r.Define(ir.ProtocolSpec{
		Name:     "Store",
		Requires: []string{"Identity"},
		Methods:  []ir.MethodSpec{{Name: "find", Mode: "async_flow"}},
		Values:   []ir.ValueSpec{{Name: "fields", Accumulate: true, Default: ir.List{}}, {Name: "limit", Default: ir.Int(10)}},
	})
	require.NoError(t, err)

	assert.Equal(t, []*Protocol{identity}, store.Requires())
	m, ok := store.LookupMethod("find")
	require.True(t, ok)
	assert.Equal(t, ModeAsyncFlow, m.Mode)

	limit, ok := store.LookupValue("limit")
	require.True(t, ok)
	assert.Equal(t, int64(10), limit.Default)

	got, ok := r.ProtocolByName("Store")
	require.True(t, ok)
	assert.Same(t, store, got)
}

func TestRegistry_DefineErrors(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Define(ir.ProtocolSpec{Name: "Store", Requires: []string{"Identity"}})
	assert.True(t, IsDefinitionError(err, ErrCodeMissingRequirement))

	spec := ir.ProtocolSpec{Name: "Identity", Methods: []ir.MethodSpec{{Name: "id", Mode: "single"}}}
	first, err := r.Define(spec)
	require.NoError(t, err)
	again, err := r.Define(spec)
	require.NoError(t, err)
	assert.Same(t, first, again, "identical redefinition is idempotent")

	spec.Methods[0].Mode = "all"
	_, err = r.Define(spec)
	assert.True(t, IsDefinitionError(err, ErrCodeDuplicateProtocol))

	_, err = r.Define(ir.ProtocolSpec{Name: "Bad", Methods: []ir.MethodSpec{{Name: "x", Mode: "never"}}})
	assert.True(t, IsDefinitionError(err, ""))
}

func TestRegistry_RegisterConflicts(t *testing.T) {
	r := newTestRegistry(t)
	p := New("Store")

	require.NoError(t, r.Register(p))
	require.NoError(t, r.Register(p))

	err := r.Register(New("Store"))
	assert.True(t, IsDefinitionError(err, ErrCodeDuplicateProtocol))
}
