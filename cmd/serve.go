package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xhad/chatweb/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat session over a websocket",
		Long: `Serve one shared chat session at /ws. Send {"type":"load","content":"<url>"}
to index a site and {"type":"ask","content":"<question>"} to ask about it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			err = server.NewWSServer(a.session, a.log).ListenAndServe(ctx, addr)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	defaultAddr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		defaultAddr = ":" + port
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "Address to listen on")

	return cmd
}
