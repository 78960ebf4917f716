package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCache is returned by cached and async dispatch when the registry was
// built without a Cache.
var ErrNoCache = errors.New("protocol: no derived-value cache configured")

// DefinitionErrorCode categorizes definition errors.
type DefinitionErrorCode string

const (
	// ErrCodeIncompatibleMember indicates a method or value was redeclared
	// with a different mode or accumulate flag.
	ErrCodeIncompatibleMember DefinitionErrorCode = "INCOMPATIBLE_MEMBER"

	// ErrCodeInvalidName indicates an empty protocol, member or type name.
	ErrCodeInvalidName DefinitionErrorCode = "INVALID_NAME"

	// ErrCodeUnknownMember indicates a method or value the protocol does not declare.
	ErrCodeUnknownMember DefinitionErrorCode = "UNKNOWN_MEMBER"

	// ErrCodeMissingRequirement indicates a required protocol is not defined.
	ErrCodeMissingRequirement DefinitionErrorCode = "MISSING_REQUIREMENT"

	// ErrCodeRequiresCycle indicates protocols that require each other.
	ErrCodeRequiresCycle DefinitionErrorCode = "REQUIRES_CYCLE"

	// ErrCodeInvalidImplementation indicates a function whose signature does
	// not match the method's dispatch mode.
	ErrCodeInvalidImplementation DefinitionErrorCode = "INVALID_IMPLEMENTATION"

	// ErrCodeInvalidDefault indicates a default that cannot be used for the member.
	ErrCodeInvalidDefault DefinitionErrorCode = "INVALID_DEFAULT"

	// ErrCodeDuplicateProperty indicates a property installed twice on a type.
	ErrCodeDuplicateProperty DefinitionErrorCode = "DUPLICATE_PROPERTY"

	// ErrCodeDuplicateType indicates a type name or Go type registered twice.
	ErrCodeDuplicateType DefinitionErrorCode = "DUPLICATE_TYPE"

	// ErrCodeDuplicateProtocol indicates two different protocols with one name.
	ErrCodeDuplicateProtocol DefinitionErrorCode = "DUPLICATE_PROTOCOL"

	// ErrCodeHookFailed indicates a first-use hook returned an error.
	ErrCodeHookFailed DefinitionErrorCode = "HOOK_FAILED"
)

// DefinitionError is raised while protocols and types are being composed.
// It is fatal to the definition that produced it and is never retried.
type DefinitionError struct {
	Code     DefinitionErrorCode
	Protocol string
	Member   string
	Type     string
	Message  string
	Err      error
}

func (e *DefinitionError) Error() string {
	var where []string
	if e.Type != "" {
		where = append(where, "type="+e.Type)
	}
	if e.Protocol != "" {
		where = append(where, "protocol="+e.Protocol)
	}
	if e.Member != "" {
		where = append(where, "member="+e.Member)
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(where) > 0 {
		msg += " (" + strings.Join(where, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// NotImplementedError is returned when a method has no implementations for
// the resolved type and no default.
type NotImplementedError struct {
	Type     string
	Protocol string
	Method   string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s.%s is not implemented by %s", e.Protocol, e.Method, e.Type)
}

// LookupError is returned when a dispatch target is neither a registered type
// nor an instance of one.
type LookupError struct {
	Target  string
	Message string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %s", e.Target, e.Message)
}

// DelegationCycleError is returned when delegation revisits an instance or
// exceeds MaxDelegationDepth.
type DelegationCycleError struct {
	// Chain lists the types visited, in order.
	Chain []string
}

func (e *DelegationCycleError) Error() string {
	return "delegation cycle: " + strings.Join(e.Chain, " -> ")
}

// ModeMismatchError is returned when a method is dispatched through a
// front-end that does not match its declared mode.
type ModeMismatchError struct {
	Protocol  string
	Method    string
	Declared  Mode
	Requested Mode
}

func (e *ModeMismatchError) Error() string {
	return fmt.Sprintf("%s.%s is declared %s, not %s", e.Protocol, e.Method, e.Declared, e.Requested)
}

// IsDefinitionError reports whether err is a DefinitionError with the given
// code. An empty code matches any DefinitionError.
func IsDefinitionError(err error, code DefinitionErrorCode) bool {
	var de *DefinitionError
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}

// IsNotImplemented reports whether err is a NotImplementedError.
func IsNotImplemented(err error) bool {
	var ne *NotImplementedError
	return errors.As(err, &ne)
}

// IsLookupError reports whether err is a LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// IsDelegationCycle reports whether err is a DelegationCycleError.
func IsDelegationCycle(err error) bool {
	var ce *DelegationCycleError
	return errors.As(err, &ce)
}

// IsModeMismatch reports whether err is a ModeMismatchError.
func IsModeMismatch(err error) bool {
	var me *ModeMismatchError
	return errors.As(err, &me)
}
