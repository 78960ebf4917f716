package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/protoflow/internal/compiler"
	"github.com/roach88/protoflow/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled protocols and their combined hash.
type CompilationResult struct {
	IRVersion string            `json:"ir_version"`
	Protocols []ir.ProtocolSpec `json:"protocols"`
	SpecHash  string            `json:"spec_hash"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	ProtocolCount int
	TotalMethods  int
	TotalValues   int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile CUE protocol specs to canonical IR",
		Long: `Compile CUE protocol declarations to canonical IR format.

The compiler parses CUE files, reads every protocol under the top-level
"protocol" field and outputs canonical JSON (RFC 8785) when --output is set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)
	for _, spec := range loadResult.Protocols {
		formatter.VerboseLog("Compiled protocol: %s", spec.Name)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	hash, err := ir.SpecHash(loadResult.Protocols)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, fmt.Sprintf("hashing specs: %v", err), nil)
	}
	result := &CompilationResult{
		IRVersion: ir.IRVersion,
		Protocols: loadResult.Protocols,
		SpecHash:  hash,
	}
	stats := calculateStats(result)

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// calculateStats computes summary statistics from compilation result.
func calculateStats(result *CompilationResult) CompilationStats {
	stats := CompilationStats{ProtocolCount: len(result.Protocols)}
	for _, spec := range result.Protocols {
		stats.TotalMethods += len(spec.Methods)
		stats.TotalValues += len(spec.Values)
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d protocol(s), %d method(s), %d value(s)\n\n",
		stats.ProtocolCount, stats.TotalMethods, stats.TotalValues)

	fmt.Fprintln(formatter.Writer, "Protocols:")
	for _, spec := range result.Protocols {
		fmt.Fprintf(formatter.Writer, "  %s: %d method(s), %d value(s)", spec.Name, len(spec.Methods), len(spec.Values))
		if len(spec.Requires) > 0 {
			fmt.Fprintf(formatter.Writer, ", requires %v", spec.Requires)
		}
		fmt.Fprintln(formatter.Writer)
	}
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "Spec hash: %s\n", result.SpecHash)

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical IR to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors reports every load error. Text output puts the source
// position, when known, on its own line above the coded message.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	failed := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		cliErrors[i].Code, cliErrors[i].Message = parseCompileError(err)
	}
	if formatter.JSON() {
		if err := formatter.Respond(CLIResponse{Status: "error", Error: &cliErrors[0], Data: cliErrors}); err != nil {
			return err
		}
		return failed
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✗ Compilation failed\n\n")
	for i, ce := range cliErrors {
		if pos := errorPos(errs[i]); pos != "" {
			fmt.Fprintln(w, pos)
		}
		fmt.Fprintf(w, "  %s: %s\n\n", ce.Code, ce.Message)
	}
	return failed
}

// errorPos returns "file:line:col" for load errors that carry a position.
func errorPos(err error) string {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || !loadErr.Pos.IsValid() {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// compiledObject is the canonical form written by --output.
func compiledObject(result *CompilationResult) ir.Object {
	protos := make(ir.List, len(result.Protocols))
	for i, spec := range result.Protocols {
		protos[i] = spec.Object()
	}
	return ir.Object{
		"ir_version": ir.String(result.IRVersion),
		"protocols":  protos,
		"spec_hash":  ir.String(result.SpecHash),
	}
}

// writeIRToFile writes the compilation result to a file in canonical JSON format.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := ir.MarshalCanonical(compiledObject(result))
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
