package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/toolrelay/cmd/internal/config"
)

// newConfigCmd registers subcommands that inspect or mutate the config file.
func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or modify " + config.FileName,
		// get and set must keep working when the file holds a value that
		// fails validation, otherwise it could never be fixed from here.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := a.loadConfig(cmd)
			if cmd.Name() == "show" {
				return err
			}
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Read a config file value by dotted key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.ReadMap(a.cfgFile)
				if err != nil {
					return err
				}
				value, ok := config.GetValue(data, args[0])
				if !ok {
					return fmt.Errorf("key %s not found", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), config.PrettyValue(value))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set [key] [value]",
			Short: "Update a config file value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.ReadMap(a.cfgFile)
				if err != nil {
					return err
				}
				if err := config.SetValue(data, args[0], config.ParseValue(args[1])); err != nil {
					return err
				}
				if err := config.WriteMap(a.cfgFile, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := yaml.Marshal(a.cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
				return nil
			},
		},
	)
	return cmd
}
