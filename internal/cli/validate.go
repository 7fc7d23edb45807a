package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weft-labs/weft/internal/gateway"
	"github.com/weft-labs/weft/internal/rules"
	"github.com/weft-labs/weft/internal/store"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Policy string
}

// ValidateResult is the JSON payload of a validate run.
type ValidateResult struct {
	Rules    int             `json:"rules"`
	Errors   []rules.Finding `json:"errors,omitempty"`
	Warnings []rules.Finding `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Compile and statically analyze a rule set",
		Long: `Compile every CUE rule file and run the full static analysis:
structural checks, operation resolution, trigger-cycle rejection,
respond reachability, and variant overlap/gap analysis.

Exit code 0 means the rule set would load; 1 means it was rejected.

Example:
  weft validate ./rules
  weft validate --format json ./rules`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to passthrough policy YAML (checked for parse errors)")

	return cmd
}

func runValidate(opts *ValidateOptions, rulesDir string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	ruleList, err := loadRules(rulesDir)
	if err != nil {
		_ = out.Error("E100", err.Error(), nil)
		return NewExitError(ExitFailure, "rule compilation failed")
	}

	if opts.Policy != "" {
		if _, perr := gateway.LoadPolicy(opts.Policy); perr != nil {
			_ = out.Error("E100", perr.Error(), nil)
			return NewExitError(ExitFailure, "policy rejected")
		}
	}

	// Operation resolution needs the module registry; a throwaway
	// in-memory database carries the schemas.
	st, err := store.Open(":memory:")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open scratch database", err)
	}
	defer st.Close()

	registry, _, err := buildModules(st, nil)
	if err != nil {
		return err
	}

	report := rules.Analyze(ruleList, registry)
	result := ValidateResult{
		Rules:    len(ruleList),
		Errors:   report.Errors,
		Warnings: report.Warnings,
	}

	if opts.Format == "json" {
		if len(result.Errors) > 0 {
			_ = out.Error("E200", "rule set rejected", result)
			return NewExitError(ExitFailure, "rule set rejected")
		}
		_ = out.Success(result)
		return nil
	}

	w := cmd.OutOrStdout()
	for _, f := range report.Errors {
		fmt.Fprintf(w, "error   %s\n", f.Error())
	}
	for _, f := range report.Warnings {
		fmt.Fprintf(w, "warning %s\n", f.Error())
	}
	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "FAIL: %d rule(s), %d error(s), %d warning(s)\n",
			len(ruleList), len(report.Errors), len(report.Warnings))
		return NewExitError(ExitFailure, "rule set rejected")
	}
	fmt.Fprintf(w, "OK: %d rule(s), %d warning(s)\n", len(ruleList), len(report.Warnings))
	return nil
}
