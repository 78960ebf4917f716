// Package compiler turns CUE protocol declarations into ir.ProtocolSpec,
// validates them and analyses the requires graph between them.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/protoflow/internal/ir"
)

// CompileProtocol parses a CUE value into a ProtocolSpec.
//
// The CUE value should be the protocol struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`protocol: Store: { methods: { find: "async_flow" } }`)
//	spec, err := CompileProtocol(v.LookupPath(cue.ParsePath("protocol.Store")))
//
// Recognised fields:
//
//	requires: [...string]
//	methods:  { <name>: <mode> }
//	values:   { <name>: { accumulate?: bool, default?: _ } }
//
// Methods and values keep their declaration order.
func CompileProtocol(v cue.Value) (*ir.ProtocolSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ProtocolSpec{}

	// Name comes from the struct label (the last path selector).
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	var err error
	if spec.Requires, err = parseRequires(v); err != nil {
		return nil, err
	}
	if spec.Methods, err = parseMethods(v); err != nil {
		return nil, err
	}
	if spec.Values, err = parseValues(v); err != nil {
		return nil, err
	}
	if len(spec.Methods) == 0 && len(spec.Values) == 0 {
		return nil, &CompileError{
			Field:   "methods",
			Message: "a protocol needs at least one method or value",
			Pos:     v.Pos(),
		}
	}
	return spec, nil
}

func parseRequires(v cue.Value) ([]string, error) {
	reqVal := v.LookupPath(cue.ParsePath("requires"))
	if !reqVal.Exists() {
		return []string{}, nil
	}
	iter, err := reqVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	requires := []string{}
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "requires",
				Message: "requires entries must be protocol names",
				Pos:     iter.Value().Pos(),
			}
		}
		requires = append(requires, name)
	}
	return requires, nil
}

func parseMethods(v cue.Value) ([]ir.MethodSpec, error) {
	methodsVal := v.LookupPath(cue.ParsePath("methods"))
	if !methodsVal.Exists() {
		return []ir.MethodSpec{}, nil
	}
	iter, err := methodsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	methods := []ir.MethodSpec{}
	for iter.Next() {
		name := iter.Selector().String()
		if err := iter.Value().Err(); err != nil {
			return nil, formatCUEError(err)
		}
		mode, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "methods." + name,
				Message: "method mode must be a string",
				Pos:     iter.Value().Pos(),
			}
		}
		methods = append(methods, ir.MethodSpec{Name: name, Mode: mode})
	}
	return methods, nil
}

func parseValues(v cue.Value) ([]ir.ValueSpec, error) {
	valuesVal := v.LookupPath(cue.ParsePath("values"))
	if !valuesVal.Exists() {
		return []ir.ValueSpec{}, nil
	}
	iter, err := valuesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	values := []ir.ValueSpec{}
	for iter.Next() {
		name := iter.Selector().String()
		decl := iter.Value()
		if decl.IncompleteKind() != cue.StructKind {
			return nil, &CompileError{
				Field:   "values." + name,
				Message: "value declaration must be a struct",
				Pos:     decl.Pos(),
			}
		}

		spec := ir.ValueSpec{Name: name}
		if accVal := decl.LookupPath(cue.ParsePath("accumulate")); accVal.Exists() {
			acc, err := accVal.Bool()
			if err != nil {
				return nil, &CompileError{
					Field:   "values." + name + ".accumulate",
					Message: "accumulate must be a bool",
					Pos:     accVal.Pos(),
				}
			}
			spec.Accumulate = acc
		}
		if defVal := decl.LookupPath(cue.ParsePath("default")); defVal.Exists() {
			def, err := cueToValue(defVal, "values."+name+".default")
			if err != nil {
				return nil, err
			}
			if _, isNull := def.(ir.Null); !isNull {
				spec.Default = def
			}
		}
		values = append(values, spec)
	}
	return values, nil
}

// cueToValue converts a concrete CUE value to an ir.Value.
// Floats are forbidden.
func cueToValue(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		list := ir.List{}
		for i := 0; iter.Next(); i++ {
			elem, err := cueToValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			list = append(list, elem)
		}
		return list, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			key := iter.Selector().String()
			elem, err := cueToValue(iter.Value(), field+"."+key)
			if err != nil {
				return nil, err
			}
			obj[key] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: "value must be concrete",
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
