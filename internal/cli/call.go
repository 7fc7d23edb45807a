package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weft-labs/weft/internal/ir"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Database string
	Policy   string
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <rules-dir> <path> [json-body]",
		Short: "Execute one external call without the HTTP server",
		Long: `Wire up the engine and execute a single call against it, exactly
as the HTTP surface would: policy decision, dispatch, response.

The body is a JSON object; omitted means {}. The response body is
printed as JSON.

Example:
  weft call --db ./weft.db ./rules /paper/ensure '{"id":"p1","title":"T"}'
  weft call --db ./weft.db ./rules /highlight/forPaper '{"paper":"p1"}'`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := "{}"
			if len(args) == 3 {
				body = args[2]
			}
			return runCall(opts, args[0], args[1], body, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to passthrough policy YAML")

	return cmd
}

func runCall(opts *CallOptions, rulesDir, path, rawBody string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	v, err := ir.FromJSON([]byte(rawBody))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid body", err)
	}
	body, ok := v.(ir.Object)
	if !ok {
		return NewExitError(ExitCommandError, "body must be a JSON object")
	}

	world, err := BuildWorld(ctx, opts.Database, rulesDir, opts.Policy, nil)
	if err != nil {
		return err
	}
	defer world.Close()

	resp, err := world.Gateway.Call(ctx, path, body)
	if err != nil {
		return WrapExitError(ExitFailure, "call failed", err)
	}

	data, err := ir.MarshalValue(resp)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode response", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
