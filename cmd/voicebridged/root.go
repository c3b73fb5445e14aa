package main

import "github.com/spf13/cobra"

// NewRootCmd builds the voicebridged command tree: a bare parent command
// that only registers subcommands.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voicebridged",
		Short: "Voice-agent orchestration server",
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}
