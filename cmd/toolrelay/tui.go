package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexcodex/toolrelay/cmd/internal/cliutils"
	"github.com/lexcodex/toolrelay/internal/tui"
)

func newTUICmd(a *app) *cobra.Command {
	var session string
	var serve bool
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The alternate screen owns stderr, so logs go to a file.
			logPath := filepath.Join(a.cfg.Workspace, ".toolrelay", "tui.log")
			if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
				return err
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer logFile.Close()
			return a.withRuntime(cmd, cliutils.Options{LogOutput: logFile}, func(ctx context.Context, rt *cliutils.Runtime) error {
				if serve {
					stop, err := rt.StartServer(ctx, a.cfg.Addr)
					if err != nil {
						return err
					}
					defer stop(context.Background())
				}
				return tui.Run(ctx, tui.Options{
					Engine:    rt.Engine,
					Tools:     rt.Tools,
					Store:     rt.Store,
					SessionID: session,
					Workspace: rt.Config.Workspace,
					Model:     rt.Config.Model,
					Logger:    rt.Logger,
				})
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Resume a stored session")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also run the HTTP API")
	return cmd
}
