package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the chatweb command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "chatweb",
		Short: "Ask questions about any website",
		Long: `chatweb indexes the text of a web page and answers questions about it
using only what the page says.

Answers are in English unless the question asks for Telugu, Tamil or Hindi.

Examples:
  chatweb chat https://example.com/docs
  chatweb serve --addr :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newChatCmd(opts), newServeCmd(opts))
	return cmd
}
