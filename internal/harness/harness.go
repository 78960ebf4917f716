package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/protoflow/internal/adapter"
	memadapter "github.com/roach88/protoflow/internal/adapter/memory"
	"github.com/roach88/protoflow/internal/compiler"
	"github.com/roach88/protoflow/internal/derive"
	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/protocol"
	"github.com/roach88/protoflow/internal/store"
	"github.com/roach88/protoflow/internal/testutil"
)

// DefaultStepTimeout bounds how long one step may wait for its future.
const DefaultStepTimeout = 5 * time.Second

// Harness executes one scenario against a fresh registry.
//
// Each run owns an in-memory store that doubles as the registry's tracer and
// as the backing database for sqlite bindings, a Loop that every future
// settles on, and a derive.Memory cache tracking every declared type.
type Harness struct {
	ctx      context.Context
	store    *store.Store
	loop     *flow.Loop
	cache    *derive.Memory
	reg      *protocol.Registry
	types    map[string]*protocol.Type
	memories map[string]*memadapter.Adapter
	logger   *slog.Logger
	timeout  time.Duration
	dbPath   string
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger handed to the registry, loop and adapters.
// Runs are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithStepTimeout bounds how long one step may wait for its future.
func WithStepTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.timeout = d
	}
}

// WithStorePath records the run in the SQLite database at path instead of a
// private in-memory one, so the trace outlives the run. Call ids restart at
// call-0001 on every run, so path should name a fresh database.
func WithStorePath(path string) Option {
	return func(h *Harness) {
		h.dbPath = path
	}
}

// Run executes a scenario with a background context.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext executes a scenario and returns the result.
//
// Execution flow:
//  1. Open the store (a fresh in-memory one unless WithStorePath is set)
//  2. Compile, validate and define the scenario's protocols in requires order
//  3. Declare types, attach protocols and bind handlers
//  4. Execute the flow, checking each expect clause
//  5. Read the trace back from the store and evaluate assertions
//
// The returned error covers scenarios that cannot run at all; failed
// expectations and assertions are reported in Result.Errors.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		ctx:      ctx,
		types:    make(map[string]*protocol.Type),
		memories: make(map[string]*memadapter.Adapter),
		logger:   testutil.DiscardLogger(),
		timeout:  DefaultStepTimeout,
		dbPath:   ":memory:",
	}
	for _, opt := range opts {
		opt(h)
	}

	st, err := store.Open(h.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	h.store = st

	h.loop = flow.NewLoop(flow.WithLoopLogger(h.logger))
	h.cache = derive.NewMemory(derive.WithLogger(h.logger))
	h.reg = protocol.NewRegistry(
		protocol.WithLogger(h.logger),
		protocol.WithTracer(st),
		protocol.WithCache(h.cache),
		protocol.WithScheduler(h.loop),
		protocol.WithIDGenerator(testutil.NewSequentialGenerator("call")),
		protocol.WithClock(flow.NewClock()),
	)
	defer h.loop.Stop()

	if err := h.defineProtocols(scenario.Specs); err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}
	if err := h.declareTypes(scenario.Types); err != nil {
		return nil, fmt.Errorf("failed to declare types: %w", err)
	}
	if err := h.bindAll(scenario.Bindings); err != nil {
		return nil, fmt.Errorf("failed to bind handlers: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		res := h.execute(i, step)
		result.Steps = append(result.Steps, res)
		if step.Expect != nil {
			for _, msg := range checkExpect(res, step.Expect) {
				result.AddError(msg)
			}
		}
	}
	h.loop.Drain()

	entries, err := st.ReadTrace(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	result.Trace = traceEvents(entries)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.value) {
		result.AddError(msg)
	}
	return result, nil
}

// defineProtocols compiles every spec file and defines the protocols so that
// requirements always precede their dependents.
func (h *Harness) defineProtocols(paths []string) error {
	cctx := cuecontext.New()
	var specs []ir.ProtocolSpec
	for _, path := range paths {
		got, err := compiler.CompileFile(cctx, path)
		if err != nil {
			return err
		}
		specs = append(specs, got...)
	}

	if errs := compiler.ValidateSet(specs); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	report, err := compiler.AnalyzeRequires(specs)
	if err != nil {
		return err
	}
	if !report.OK() {
		var msgs []string
		for _, m := range report.Missing {
			msgs = append(msgs, m.String())
		}
		for _, c := range report.Cycles {
			msgs = append(msgs, c.Message)
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	byName := make(map[string]ir.ProtocolSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	for _, name := range report.Order {
		if _, err := h.reg.Define(byName[name]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) declareTypes(decls []TypeDecl) error {
	for _, td := range decls {
		t, err := h.reg.DefineType(td.Name, nil)
		if err != nil {
			return err
		}
		h.cache.Track(t)
		h.types[td.Name] = t

		for _, name := range td.Protocols {
			p, ok := h.reg.ProtocolByName(name)
			if !ok {
				return fmt.Errorf("type %s: unknown protocol %q", td.Name, name)
			}
			if err := h.reg.Attach(t, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Harness) bindAll(bindings []Binding) error {
	for i, b := range bindings {
		if err := h.bind(b); err != nil {
			return fmt.Errorf("bindings[%d] %s: %w", i, b.Ref, err)
		}
	}
	return nil
}

func (h *Harness) bind(b Binding) error {
	parts, err := splitRef(b.Ref, 2, 3)
	if err != nil {
		return err
	}
	t, p, err := h.lookup(parts[0], parts[1])
	if err != nil {
		return err
	}
	entry, ok := handlers[b.Handler]
	if !ok {
		return fmt.Errorf("unknown handler %q", b.Handler)
	}
	prio := protocol.WithPriority(b.Priority)

	if len(parts) == 2 {
		if entry.leaf == nil {
			return fmt.Errorf("handler %q needs a method ref", b.Handler)
		}
		leaf, err := entry.leaf(h, b.With)
		if err != nil {
			return err
		}
		return adapter.Bind(h.reg, t, p, leaf, prio)
	}

	if entry.method == nil {
		return fmt.Errorf("handler %q binds a whole protocol, not a method", b.Handler)
	}
	m, ok := p.LookupMethod(parts[2])
	if !ok {
		return fmt.Errorf("protocol %s declares no method %q", p.Name(), parts[2])
	}
	fn, err := entry.method(h, m.Mode, b.With)
	if err != nil {
		return err
	}
	return h.reg.Implement(t, p, m.Name, fn, prio)
}

func (h *Harness) lookup(typeName, protoName string) (*protocol.Type, *protocol.Protocol, error) {
	t, ok := h.types[typeName]
	if !ok {
		return nil, nil, fmt.Errorf("unknown type %q", typeName)
	}
	p, ok := h.reg.ProtocolByName(protoName)
	if !ok {
		return nil, nil, fmt.Errorf("unknown protocol %q", protoName)
	}
	return t, p, nil
}

// execute runs one flow step. Dispatch failures become a failed StepResult.
func (h *Harness) execute(index int, step FlowStep) StepResult {
	if step.Set != "" {
		res := StepResult{Index: index, Ref: step.Set}
		err := h.set(step.Set, step.Value)
		return res.settle(nil, err)
	}

	res := StepResult{Index: index, Ref: step.Invoke}
	parts, err := splitRef(step.Invoke, 3, 3)
	if err != nil {
		return res.settle(nil, err)
	}
	t, p, err := h.lookup(parts[0], parts[1])
	if err != nil {
		return res.settle(nil, err)
	}

	out, err := h.reg.Invoke(t, p, parts[2], step.Args...)
	if err != nil {
		return res.settle(nil, err)
	}
	if f, ok := out.(*flow.Future); ok {
		ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
		defer cancel()
		out, err = h.loop.Await(ctx, f)
		if err != nil {
			return res.settle(nil, err)
		}
	}

	if m, _ := p.LookupMethod(parts[2]); m != nil && m.Mode == protocol.ModeAll && out == false {
		res.State = StateVetoed
		res.Value = false
		return res
	}
	return res.settle(out, nil)
}

func (h *Harness) set(ref string, v any) error {
	parts, err := splitRef(ref, 3, 3)
	if err != nil {
		return err
	}
	t, p, err := h.lookup(parts[0], parts[1])
	if err != nil {
		return err
	}
	return h.reg.SetValue(t, p, parts[2], v)
}

// value reads a protocol value by ref; exposed to expr assertions.
func (h *Harness) value(ref string) (any, error) {
	parts, err := splitRef(ref, 3, 3)
	if err != nil {
		return nil, err
	}
	t, p, err := h.lookup(parts[0], parts[1])
	if err != nil {
		return nil, err
	}
	v, err := h.reg.Value(t, p, parts[2])
	if err != nil {
		return nil, err
	}
	return ir.ToGo(ir.Summarize(v)), nil
}
