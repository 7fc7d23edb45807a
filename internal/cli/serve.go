package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weft-labs/weft/internal/gateway"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Policy   string
	Listen   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <rules-dir>",
		Short: "Serve the gateway over HTTP",
		Long: `Load the rule set, open the database, and serve external calls.

Every POST /{module}/{operation} is routed by the passthrough policy:
denied, invoked directly, or dispatched through the rule engine, which
blocks the call until a rule chain responds.

Example:
  weft serve --db ./weft.db ./rules
  weft serve --db ./weft.db --policy ./policy.yaml --listen :9090 ./rules`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to passthrough policy YAML")
	cmd.Flags().StringVar(&opts.Listen, "listen", ":8080", "listen address")

	return cmd
}

func runServe(opts *ServeOptions, rulesDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	slog.Info("loading rules", "dir", rulesDir)
	world, err := BuildWorld(ctx, opts.Database, rulesDir, opts.Policy, nil)
	if err != nil {
		return err
	}
	defer world.Close()

	for _, w := range world.Warnings {
		slog.Warn("rule analysis warning", "code", w.Code, "rule", w.RuleID, "message", w.Message)
	}
	slog.Info("world ready", "rules", world.Rules.Len(), "db", opts.Database)

	server := &http.Server{
		Addr:              opts.Listen,
		Handler:           gateway.NewRouter(world.Gateway),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", opts.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
