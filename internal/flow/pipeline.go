package flow

import "slices"

// Step is one element of a synchronous pipeline.
//
// A step calls p.Advance to run the remaining steps and usually returns what
// Advance returned. Returning without advancing short-circuits the pipeline.
type Step func(p *Pipeline, args ...any) any

// Pipeline is an immutable ordered list of steps bound to a target and an
// argument tuple.
type Pipeline struct {
	target any
	steps  []Step
	args   []any
}

// NewPipeline binds steps to target and args. The step slice is copied.
func NewPipeline(target any, steps []Step, args ...any) *Pipeline {
	return &Pipeline{
		target: target,
		steps:  slices.Clone(steps),
		args:   args,
	}
}

// Run invokes the first step with the bound arguments and returns its result.
// A pipeline with no steps returns nil.
//
// Panics raised by a step propagate to the caller.
func (p *Pipeline) Run() any {
	if len(p.steps) == 0 {
		return nil
	}
	return p.steps[0](p, p.args...)
}

// Advance runs a new pipeline over the remaining steps.
//
// With no arguments the current arguments are reused. On the last step
// Advance returns nil without running anything.
func (p *Pipeline) Advance(args ...any) any {
	if len(p.steps) <= 1 {
		return nil
	}
	if len(args) == 0 {
		args = p.args
	}
	next := &Pipeline{target: p.target, steps: p.steps[1:], args: args}
	return next.Run()
}

// Target returns the object the pipeline was bound to.
func (p *Pipeline) Target() any { return p.target }

// Args returns the bound argument tuple.
func (p *Pipeline) Args() []any { return p.args }

// Len returns the number of steps left, including the current one.
func (p *Pipeline) Len() int { return len(p.steps) }
