package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Ref      string // optional - filter to one Type.Protocol.method
	State    string // optional - filter to calls whose outcome has this state
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"` // "call" or "outcome"
	CallID string `json:"call_id"`
	Ref    string `json:"ref,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Args   []any  `json:"args,omitempty"`
	State  string `json:"state,omitempty"`
	Value  any    `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Calls       int            `json:"calls"`
	Outcomes    int            `json:"outcomes"`
	Pending     int            `json:"pending"`
	ByState     map[string]int `json:"by_state"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the dispatch trace recorded in a database",
		Long: `Show the calls and outcomes recorded in a trace database.

The timeline lists every traced dispatch in seq order, each call followed
later by its outcome. Calls still waiting on a future have no outcome and
are counted as pending.

Examples:
  protoflow trace --db ./trace.db
  protoflow trace --db ./trace.db --ref Account.Store.find
  protoflow trace --db ./trace.db --state failed --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "filter to one Type.Protocol.method")
	cmd.Flags().StringVar(&opts.State, "state", "", "filter to calls with this outcome state (succeeded|failed|vetoed)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// store.Open would create a missing file.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entries, err := st.ReadTrace(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	result := TraceResult{
		Timeline: buildTimeline(entries, opts.Ref, opts.State),
		Stats:    TraceStats{ByState: map[string]int{}},
	}
	if result.Timeline == nil {
		result.Timeline = []TraceEvent{}
	}
	settled := make(map[string]bool)
	for _, e := range result.Timeline {
		if e.Kind == "call" {
			result.Stats.Calls++
			continue
		}
		result.Stats.Outcomes++
		result.Stats.ByState[e.State]++
		settled[e.CallID] = true
	}
	result.Stats.TotalEvents = len(result.Timeline)
	result.Stats.Pending = result.Stats.Calls - len(settled)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTimeline converts store entries to timeline events. Outcomes carry
// their call's ref. When ref or state is set, only matching calls and their
// outcomes are kept.
func buildTimeline(entries []store.Entry, ref, state string) []TraceEvent {
	refs := make(map[string]string)
	states := make(map[string]string)
	for _, e := range entries {
		if e.Call != nil {
			refs[e.Call.ID] = e.Call.Ref()
		} else {
			states[e.Outcome.CallID] = e.Outcome.State
		}
	}
	keep := func(callID string) bool {
		if ref != "" && refs[callID] != ref {
			return false
		}
		if state != "" && states[callID] != state {
			return false
		}
		return true
	}

	var timeline []TraceEvent
	for _, e := range entries {
		if e.Call != nil {
			if !keep(e.Call.ID) {
				continue
			}
			args, _ := ir.ToGo(e.Call.Args).([]any)
			timeline = append(timeline, TraceEvent{
				Seq:    e.Seq,
				Kind:   "call",
				CallID: e.Call.ID,
				Ref:    e.Call.Ref(),
				Mode:   e.Call.Mode,
				Args:   args,
			})
			continue
		}
		o := e.Outcome
		if !keep(o.CallID) {
			continue
		}
		ev := TraceEvent{
			Seq:    e.Seq,
			Kind:   "outcome",
			CallID: o.CallID,
			Ref:    refs[o.CallID],
			State:  o.State,
			Reason: o.Reason,
		}
		if o.Value != nil {
			ev.Value = ir.ToGo(o.Value)
		}
		timeline = append(timeline, ev)
	}
	return timeline
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	return newFormatter(&RootOptions{Format: "json"}, cmd).Respond(CLIResponse{
		Status: "ok",
		Data:   result,
	})
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, event := range result.Timeline {
		formatTimelineEvent(w, event, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Calls:        %d\n", result.Stats.Calls)
	fmt.Fprintf(w, "  Outcomes:     %d\n", result.Stats.Outcomes)
	fmt.Fprintf(w, "  Pending:      %d\n", result.Stats.Pending)
	states := make([]string, 0, len(result.Stats.ByState))
	for s := range result.Stats.ByState {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(w, "  %-13s %d\n", s+":", result.Stats.ByState[s])
	}

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	switch event.Kind {
	case "call":
		fmt.Fprintf(w, "  [%d] CALL %s (%s) %s\n", event.Seq, event.Ref, event.Mode, formatValue(event.Args))
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", event.CallID)
		}
	case "outcome":
		fmt.Fprintf(w, "  [%d]   -> %s %s", event.Seq, event.Ref, event.State)
		switch {
		case event.Reason != "":
			fmt.Fprintf(w, ": %s", event.Reason)
		case event.Value != nil:
			fmt.Fprintf(w, " %s", formatValue(event.Value))
		}
		fmt.Fprintln(w)
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", event.CallID)
		}
	}
}

// formatArgs formats a map for display with sorted keys.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}
