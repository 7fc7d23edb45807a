package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	FlowToken string
	Op        string // optional - filter to one operation
}

// TraceEvent is one journaled event in the trace timeline.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	ID     string `json:"id"`
	Op     string `json:"op"`
	Error  bool   `json:"error,omitempty"`
	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
}

// TraceFiring is one rule firing recorded for the flow.
type TraceFiring struct {
	RuleID      string `json:"rule_id"`
	EventID     string `json:"event_id"`
	BindingHash string `json:"binding_hash"`
	Seq         int64  `json:"seq"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	FlowToken string        `json:"flow_token"`
	Timeline  []TraceEvent  `json:"timeline"`
	Firings   []TraceFiring `json:"firings"`
	Stats     TraceStats    `json:"stats"`
}

// TraceStats summarizes the flow.
type TraceStats struct {
	Events      int `json:"events"`
	ErrorEvents int `json:"error_events"`
	RuleFirings int `json:"rule_firings"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal for one flow",
		Long: `Print the event timeline and rule firings for a flow.

The timeline is every journaled event in seq order; the firings list
shows which rules fired against which triggering events, with the
binding hash that makes each firing idempotent.

Examples:
  weft trace --db ./weft.db --flow 0190a3f2-...
  weft trace --db ./weft.db --flow 0190a3f2-... --op highlight.add --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "flow token to trace (required)")
	_ = cmd.MarkFlagRequired("flow")
	cmd.Flags().StringVar(&opts.Op, "op", "", "filter to one operation reference")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	records, err := st.ReadFlow(ctx, opts.FlowToken)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read flow", err)
	}
	firings, err := st.ReadFlowFirings(ctx, opts.FlowToken)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read firings", err)
	}

	result := TraceResult{
		FlowToken: opts.FlowToken,
		Timeline:  []TraceEvent{},
		Firings:   []TraceFiring{},
	}
	for _, rec := range records {
		if opts.Op != "" && string(rec.Op) != opts.Op {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:    rec.Seq,
			ID:     rec.ID,
			Op:     string(rec.Op),
			Error:  rec.IsError(),
			Input:  ir.ToGo(rec.Input),
			Output: ir.ToGo(rec.Output),
		})
		if rec.IsError() {
			result.Stats.ErrorEvents++
		}
	}
	for _, f := range firings {
		result.Firings = append(result.Firings, TraceFiring{
			RuleID:      f.RuleID,
			EventID:     f.EventID,
			BindingHash: f.BindingHash,
			Seq:         f.Seq,
		})
	}
	result.Stats.Events = len(result.Timeline)
	result.Stats.RuleFirings = len(result.Firings)

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	}

	w := cmd.OutOrStdout()
	if len(result.Timeline) == 0 {
		fmt.Fprintf(w, "No events found for flow: %s\n", opts.FlowToken)
		return nil
	}

	fmt.Fprintf(w, "Flow %s\n\n", opts.FlowToken)
	for _, ev := range result.Timeline {
		marker := " "
		if ev.Error {
			marker = "!"
		}
		fmt.Fprintf(w, "%s seq=%-4d %-24s %s\n", marker, ev.Seq, ev.Op, ev.ID)
	}
	if len(result.Firings) > 0 {
		fmt.Fprintln(w)
		for _, f := range result.Firings {
			fmt.Fprintf(w, "  fired %-24s on %s\n", f.RuleID, f.EventID)
		}
	}
	fmt.Fprintf(w, "\n%d event(s), %d error(s), %d firing(s)\n",
		result.Stats.Events, result.Stats.ErrorEvents, result.Stats.RuleFirings)
	return nil
}
