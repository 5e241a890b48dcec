package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/graphidx/graphidx/internal/narrate"
	"github.com/graphidx/graphidx/internal/rpc"
)

var repoRoot string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the RPC dispatcher over stdio",
	Long: `serve opens the configured store, wires the dispatcher's full
method table, and blocks reading newline-delimited JSON requests from
stdin until EOF or a termination signal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		suggester, err := openSuggester(cfg, st)
		if err != nil {
			logger.WithError(err).Warn("failed to open suggestion cache, suggestions disabled")
			suggester = nil
		}
		if suggester != nil {
			defer suggester.Close()
		}

		structLogger, err := structuredLogger(cfg)
		if err != nil {
			return err
		}
		defer structLogger.Close()

		root := repoRoot
		if root == "" {
			root = "."
		}

		dispatcher := rpc.New(st, suggester, narrate.New(), root)
		dispatcher.Logger = structLogger

		if term.IsTerminal(int(os.Stdin.Fd())) {
			logger.Warn("stdin is a terminal; serve expects a newline-delimited JSON request stream, not interactive input")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		transport := rpc.NewTransport(dispatcher)
		return serveUntilDone(ctx, transport)
	},
}

func serveUntilDone(ctx context.Context, t *rpc.Transport) error {
	done := make(chan error, 1)
	go func() { done <- t.Serve(ctx) }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

func init() {
	serveCmd.Flags().StringVar(&repoRoot, "repo", "", "repository root used for path canonicalization (default: current directory)")
}
