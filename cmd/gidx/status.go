package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the current graph version and indexed file/symbol counts",
	Long: `status opens the configured store and prints the current graph
version, the last-indexed commit (if recorded in the meta table), and a
per-kind breakdown of indexed symbols, without starting the RPC server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		version, err := st.CurrentGraphVersion(ctx)
		if err != nil {
			return err
		}

		files, err := st.ListLiveFiles(ctx, version, nil, nil)
		if err != nil {
			return err
		}

		kinds, err := st.CountSymbolsByKind(ctx, version)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "graph_version: %d\n", version)
		if sha, ok, _ := st.GetMeta(ctx, "last_indexed_commit"); ok {
			fmt.Fprintf(out, "last_indexed_commit: %s\n", sha)
		}
		fmt.Fprintf(out, "files: %d\n", len(files))
		if len(kinds) == 0 {
			fmt.Fprintln(out, "symbols: 0")
			return nil
		}
		total := 0
		for _, n := range kinds {
			total += n
		}
		fmt.Fprintf(out, "symbols: %d\n", total)
		for kind, n := range kinds {
			fmt.Fprintf(out, "  %s: %d\n", kind, n)
		}
		return nil
	},
}
