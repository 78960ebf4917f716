package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/protoflow/internal/compiler"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Output string
}

// GraphResult is the JSON payload of the graph command.
type GraphResult struct {
	DOT     string                        `json:"dot"`
	Order   []string                      `json:"order"`
	Missing []compiler.MissingRequirement `json:"missing"`
	Cycles  []compiler.RequiresCycle      `json:"cycles"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph <specs-dir>",
		Short: "Render the requires graph as Graphviz DOT",
		Long: `Render the protocols' requires graph in Graphviz DOT format.

Nodes are filled by each protocol's dominant dispatch mode. Requirements
that no spec declares are drawn dashed.

Example:
  protoflow graph ./specs | dot -Tsvg > requires.svg
  protoflow graph ./specs -o requires.dot`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write DOT to file instead of stdout")

	return cmd
}

func runGraph(opts *GraphOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	var buf bytes.Buffer
	if err := compiler.WriteRequiresDOT(loadResult.Protocols, &buf); err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	report, err := compiler.AnalyzeRequires(loadResult.Protocols)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	for _, m := range report.Missing {
		formatter.VerboseLog("warning: %s", m)
	}
	for _, c := range report.Cycles {
		formatter.VerboseLog("warning: %s", c.Message)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, buf.Bytes(), 0644); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	if formatter.JSON() {
		return formatter.Success(GraphResult{
			DOT:     buf.String(),
			Order:   report.Order,
			Missing: report.Missing,
			Cycles:  report.Cycles,
		})
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote requires graph to %s\n", opts.Output)
		return nil
	}
	_, err = formatter.Writer.Write(buf.Bytes())
	return err
}
