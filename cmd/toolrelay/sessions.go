package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexcodex/toolrelay/persistence"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored sessions",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(func(store persistence.MessageStore) error {
					ids, err := store.Sessions(cmd.Context())
					if err != nil {
						return err
					}
					if len(ids) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No saved sessions.")
						return nil
					}
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show [id]",
			Short: "Print a session transcript",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(func(store persistence.MessageStore) error {
					history, err := store.History(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					for _, in := range history {
						label := in.Role
						if in.Name != "" {
							label += " (" + in.Name + ")"
						}
						fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", label, in.Content)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear [id]",
			Short: "Delete a stored session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(func(store persistence.MessageStore) error {
					if err := store.Clear(context.WithoutCancel(cmd.Context()), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleared\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) withStore(fn func(persistence.MessageStore) error) error {
	store, err := persistence.Open(a.cfg.Store, a.cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
