package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/toolrelay/agents/turn"
	"github.com/lexcodex/toolrelay/cmd/internal/cliutils"
	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/internal/tui"
)

func newChatCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run one user turn and print the event stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, cliutils.Options{}, func(ctx context.Context, rt *cliutils.Runtime) error {
				return runChat(ctx, rt, session, strings.Join(args, " "), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Continue (and save to) a stored session")
	return cmd
}

func runChat(ctx context.Context, rt *cliutils.Runtime, session, message string, out io.Writer) error {
	var prior []framework.Interaction
	if session != "" {
		loaded, err := rt.Store.History(ctx, session)
		if err != nil {
			return err
		}
		prior = loaded
		ctx = framework.WithConversationID(ctx, session)
	}
	history := framework.NewHistory(prior...)
	before := history.Len()

	printer := &eventPrinter{out: out}
	res := rt.Engine.Run(ctx, history, message, printer.handle)
	printer.finish()

	if session != "" {
		if err := rt.Store.Append(context.WithoutCancel(ctx), session, history.All()[before:]...); err != nil {
			return fmt.Errorf("save session %s: %w", session, err)
		}
	}
	if res.State == turn.StateAborted {
		return fmt.Errorf("run aborted after %d turns: %w", res.Turns, res.Err)
	}
	return nil
}

// eventPrinter streams tokens as they arrive and renders every other event as
// a styled block.
type eventPrinter struct {
	out       io.Writer
	streaming bool
}

func (p *eventPrinter) handle(ev turn.Event) {
	if ev.Type == turn.EventToken {
		if !p.streaming {
			fmt.Fprintln(p.out, tui.RenderEntry(tui.Entry{Kind: tui.EntryAssistant}, 0))
			p.streaming = true
		}
		fmt.Fprint(p.out, ev.Content)
		return
	}
	p.finish()
	if e, ok := tui.EntryForEvent(ev); ok {
		fmt.Fprintln(p.out, tui.RenderEntry(e, 0))
	}
}

func (p *eventPrinter) finish() {
	if p.streaming {
		fmt.Fprintln(p.out)
		p.streaming = false
	}
}
