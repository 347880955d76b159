// Package main implements popguard, the popup decision daemon, and its
// offline commands.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/popguard/internal/config"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "popguard",
		Short: "Intrusive popup decision engine",
		Long: `popguard decides, for each candidate overlay a browser tab reports, whether it
is an intrusive popup, asks for or infers a decision and learns from the outcome.

The serve command runs the daemon the browser extension talks to. The other
commands work offline against the same configuration and store.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default ~/.config/popguard/config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newPatternsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load resolves the config path and loads it. A missing file yields the
// defaults overlaid with environment variables.
func (o *rootOptions) load() (*config.Config, string, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, path, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "popguard by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
