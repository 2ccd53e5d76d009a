package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/toolrelay/cmd/internal/cliutils"
	"github.com/lexcodex/toolrelay/cmd/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the state shared by subcommands for one invocation.
type app struct {
	cfg     config.Config
	cfgFile string

	// flag targets; applied over the file only when set on the command line
	flags config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{flags: config.Default()}
	root := &cobra.Command{
		Use:           "toolrelay",
		Short:         "Tool-calling agent loop for local language models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.Workspace, "workspace", a.flags.Workspace, "Workspace directory tools are confined to")
	pf.StringVar(&a.cfgFile, "config", "", "Config file (default <workspace>/"+config.FileName+")")
	pf.StringVar(&a.flags.Model, "model", a.flags.Model, "Model name")
	pf.StringVar(&a.flags.Endpoint, "endpoint", a.flags.Endpoint, "Ollama endpoint URL")
	pf.BoolVar(&a.flags.NativeTools, "native-tools", false, "Send tools through the native tool-calling API")
	pf.StringVar(&a.flags.Store, "store", a.flags.Store, "Session store (file, sqlite, memory)")
	pf.StringVar(&a.flags.StorePath, "store-path", "", "Session store location")
	pf.StringVar(&a.flags.LogLevel, "log-level", a.flags.LogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.LogFormat, "log-format", a.flags.LogFormat, "Log format (text, json)")
	pf.BoolVar(&a.flags.Debug, "debug", false, "Log raw model payloads")

	root.AddCommand(
		newChatCmd(a),
		newTUICmd(a),
		newServeCmd(a),
		newExtractCmd(a),
		newToolsCmd(a),
		newSessionsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// loadConfig resolves defaults < file < environment < flags.
func (a *app) loadConfig(cmd *cobra.Command) error {
	base := config.Default()
	flags := cmd.Flags()
	if flags.Changed("workspace") {
		base.Workspace = a.flags.Workspace
	}
	if a.cfgFile == "" {
		a.cfgFile = config.DefaultPath(base.Workspace)
	}
	cfg, err := config.Load(a.cfgFile, base)
	if err != nil {
		return err
	}
	if flags.Changed("workspace") {
		cfg.Workspace = a.flags.Workspace
	}
	if flags.Changed("model") {
		cfg.Model = a.flags.Model
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint = a.flags.Endpoint
	}
	if flags.Changed("native-tools") {
		cfg.NativeTools = a.flags.NativeTools
	}
	if flags.Changed("store") {
		cfg.Store = a.flags.Store
	}
	if flags.Changed("store-path") {
		cfg.StorePath = a.flags.StorePath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.flags.LogFormat
	}
	if flags.Changed("debug") {
		cfg.Debug = a.flags.Debug
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// withRuntime builds the runtime for one command and closes it afterwards.
func (a *app) withRuntime(cmd *cobra.Command, opts cliutils.Options, fn func(context.Context, *cliutils.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := cliutils.New(ctx, a.cfg, opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
