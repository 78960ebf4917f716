package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/protoflow/internal/compiler"
	"github.com/roach88/protoflow/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Order  []string                   `json:"order,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate protocol specs without writing IR",
		Long: `Validate CUE protocol specs without writing output.

Compiles every protocol, checks names, dispatch modes and value defaults,
then checks that every requirement is declared and that requirements
form no cycle. On success prints the order protocols would be defined in.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			})
		}
	}

	order, errs := validateAll(loadResult.Protocols, formatter)
	validationErrors = append(validationErrors, errs...)

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	return outputValidateSuccess(formatter, order)
}

// validateAll runs schema validation over the set and, when names are
// unique, the requires analysis. It returns the definition order on success.
func validateAll(specs []ir.ProtocolSpec, formatter *OutputFormatter) ([]string, []compiler.ValidationError) {
	for _, spec := range specs {
		formatter.VerboseLog("Validating protocol: %s", spec.Name)
	}

	errs := compiler.ValidateSet(specs)
	for _, e := range errs {
		if e.Code == compiler.ErrDuplicateMember && e.Field != "" && !strings.Contains(e.Field, ".") {
			// The requires graph cannot be built over duplicate protocols.
			return nil, errs
		}
	}

	report, err := compiler.AnalyzeRequires(specs)
	if err != nil {
		return nil, append(errs, compiler.ValidationError{
			Field:   "requires",
			Message: err.Error(),
			Code:    ErrCodeGeneric,
		})
	}
	for _, m := range report.Missing {
		errs = append(errs, compiler.ValidationError{
			Field:   m.Protocol + ".requires",
			Message: m.String(),
			Code:    compiler.ErrInvalidRequire,
		})
	}
	for _, c := range report.Cycles {
		errs = append(errs, compiler.ValidationError{
			Field:   c.Path[0] + ".requires",
			Message: c.Message,
			Code:    compiler.ErrInvalidRequire,
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return report.Order, nil
}

func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, order []string) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Order: order})
	}

	fmt.Fprintln(formatter.Writer, "✓ All specs valid")
	if len(order) > 0 {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintln(formatter.Writer, "Definition order:")
		for i, name := range order {
			fmt.Fprintf(formatter.Writer, "  %d. %s\n", i+1, name)
		}
	}
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		if err := formatter.Respond(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// ValidateSpecsDir validates all specs in a directory.
// This is a helper function for external callers.
func ValidateSpecsDir(specsDir string) ([]compiler.ValidationError, error) {
	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	silent := &OutputFormatter{Format: "text", Writer: io.Discard}
	_, errs := validateAll(loadResult.Protocols, silent)
	return errs, nil
}
