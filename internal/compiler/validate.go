package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/protocol"
)

// Validation error codes (E100-E199)
const (
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	ErrInvalidName       = "E101" // empty or malformed protocol/member name
	ErrUnknownMode       = "E102" // method mode is not a dispatch mode
	ErrDuplicateMember   = "E103" // member declared twice
	ErrFloatForbidden    = "E104" // float in a default value
	ErrInvalidRequire    = "E105" // empty, self or duplicate requirement
	ErrAccumulateDefault = "E106" // accumulating value with a non-list default
	ErrEmptyProtocol     = "E107" // no methods and no values
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.ProtocolSpec:
		return validateProtocolSpec(spec)
	case ir.ProtocolSpec:
		return validateProtocolSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// protocolNamePattern matches "Store", "HTTPClient", "store_v2".
var protocolNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// memberNamePattern matches "find", "findAll", "find_all".
var memberNamePattern = regexp.MustCompile(`^[a-z_][A-Za-z0-9_]*$`)

func validateProtocolSpec(spec *ir.ProtocolSpec) []ValidationError {
	var errs []ValidationError

	if !protocolNamePattern.MatchString(spec.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid protocol name %q", spec.Name),
			Code:    ErrInvalidName,
		})
	}

	if len(spec.Methods) == 0 && len(spec.Values) == 0 {
		errs = append(errs, ValidationError{
			Field:   "methods",
			Message: "at least one method or value is required",
			Code:    ErrEmptyProtocol,
		})
	}

	seenReq := make(map[string]bool)
	for i, req := range spec.Requires {
		field := fmt.Sprintf("requires[%d]", i)
		switch {
		case req == "":
			errs = append(errs, ValidationError{Field: field, Message: "empty requirement", Code: ErrInvalidRequire})
		case req == spec.Name:
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("%s requires itself", req), Code: ErrInvalidRequire})
		case seenReq[req]:
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate requirement %q", req), Code: ErrInvalidRequire})
		}
		seenReq[req] = true
	}

	members := make(map[string]string)
	for i, m := range spec.Methods {
		field := fmt.Sprintf("methods[%d]", i)
		errs = append(errs, checkMemberName(field, m.Name, "method", members)...)
		if _, err := protocol.ParseMode(m.Mode); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".mode",
				Message: fmt.Sprintf("method %q: unknown dispatch mode %q", m.Name, m.Mode),
				Code:    ErrUnknownMode,
			})
		}
	}

	for i, v := range spec.Values {
		field := fmt.Sprintf("values[%d]", i)
		errs = append(errs, checkMemberName(field, v.Name, "value", members)...)
		if v.Accumulate && v.Default != nil {
			if _, isList := v.Default.(ir.List); !isList {
				errs = append(errs, ValidationError{
					Field:   field + ".default",
					Message: fmt.Sprintf("accumulating value %q needs a list default", v.Name),
					Code:    ErrAccumulateDefault,
				})
			}
		}
	}

	return errs
}

func checkMemberName(field, name, kind string, seen map[string]string) []ValidationError {
	var errs []ValidationError
	if !memberNamePattern.MatchString(name) {
		errs = append(errs, ValidationError{
			Field:   field + ".name",
			Message: fmt.Sprintf("invalid %s name %q", kind, name),
			Code:    ErrInvalidName,
		})
	}
	if prev, ok := seen[name]; ok {
		errs = append(errs, ValidationError{
			Field:   field + ".name",
			Message: fmt.Sprintf("%s %q already declared as a %s", kind, name, prev),
			Code:    ErrDuplicateMember,
		})
		return errs
	}
	seen[name] = kind
	return errs
}

// ValidateSet validates every spec and the names across the set.
func ValidateSet(specs []ir.ProtocolSpec) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for _, spec := range specs {
		for _, e := range Validate(spec) {
			e.Field = spec.Name + "." + e.Field
			errs = append(errs, e)
		}
		if seen[spec.Name] {
			errs = append(errs, ValidationError{
				Field:   spec.Name,
				Message: fmt.Sprintf("protocol %q declared twice", spec.Name),
				Code:    ErrDuplicateMember,
			})
		}
		seen[spec.Name] = true
	}
	return errs
}
