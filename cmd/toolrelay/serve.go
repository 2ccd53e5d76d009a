package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexcodex/toolrelay/cmd/internal/cliutils"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			return a.withRuntime(cmd, cliutils.Options{}, func(ctx context.Context, rt *cliutils.Runtime) error {
				fmt.Fprintf(cmd.OutOrStdout(), "toolrelay API listening on %s\n", a.cfg.Addr)
				err := rt.API().ServeContext(ctx, a.cfg.Addr)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}
