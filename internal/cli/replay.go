package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weft-labs/weft/internal/engine"
	"github.com/weft-labs/weft/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <rules-dir>",
		Short: "Verify the journal replays deterministically",
		Long: `Re-dispatch every flow's root call into a fresh in-memory engine
under the same rule set and compare the resulting event ids against the
stored journal, position by position.

Content-addressed ids make the comparison total: a divergence in any
input, output, operation, or seq changes the id. Exit code 0 means the
journal is reproducible; 1 means it diverged.

Example:
  weft replay --db ./weft.db ./rules`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, rulesDir string, cmd *cobra.Command) error {
	ctx := context.Background()

	ruleList, err := loadRules(rulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile rules", err)
	}

	src, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer src.Close()

	// The fresh world starts from nothing: empty journal, empty module
	// state, zeroed clock. Replay rebuilds both as it re-dispatches.
	scratch, err := store.Open(":memory:")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open scratch database", err)
	}
	defer scratch.Close()

	fresh, err := buildOverStore(ctx, scratch, ruleList, nil, nil)
	if err != nil {
		return err
	}

	report, err := engine.Replay(ctx, src, fresh.Engine)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if opts.Format == "json" {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(report); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, d := range report.Divergences {
			fmt.Fprintf(w, "divergence: flow %s event %d: want %s, got %s\n",
				d.FlowToken, d.Index, d.WantID, d.GotID)
		}
		verdict := "DETERMINISTIC"
		if !report.Deterministic() {
			verdict = "DIVERGED"
		}
		fmt.Fprintf(w, "%s: %d flow(s), %d event(s), %d divergence(s)\n",
			verdict, report.Flows, report.Events, len(report.Divergences))
	}

	if !report.Deterministic() {
		return NewExitError(ExitFailure, "journal replay diverged")
	}
	return nil
}
