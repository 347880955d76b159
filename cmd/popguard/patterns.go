package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/learning"
)

func newPatternsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect and prune learned patterns in the store",
		Long: `Work with the learned patterns of the configured store. Stop the daemon
first when it uses the same database.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print learned patterns as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPatterns(cmd, opts, func(ps *learning.Store) error {
					return writeJSON(cmd.OutOrStdout(), ps.Patterns())
				})
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Remove patterns that are too old or decayed below the floor",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPatterns(cmd, opts, func(ps *learning.Store) error {
					removed := ps.Cleanup(cmd.Context())
					return writeJSON(cmd.OutOrStdout(), map[string]int{
						"removed":   removed,
						"remaining": ps.Len(),
					})
				})
			},
		},
	)
	return cmd
}

// withPatterns loads the pattern store from the configured backend.
func withPatterns(cmd *cobra.Command, opts *rootOptions, fn func(*learning.Store) error) error {
	cfg, _, err := opts.load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ps := learning.NewStore(engineConfig(cfg).Learning, learning.WithPersistence(st))
	if err := ps.Load(cmd.Context()); err != nil {
		return err
	}
	return fn(ps)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
