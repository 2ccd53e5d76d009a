package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcodex/toolrelay/cmd/internal/cliutils"
	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/framework/extract"
	"github.com/lexcodex/toolrelay/internal/logging"
)

type extractOutput struct {
	Calls     []framework.Call `json:"calls"`
	Matcher   string           `json:"matcher,omitempty"`
	Cascade   string           `json:"cascade,omitempty"`
	Malformed bool             `json:"malformed_call_evidence"`
	// Results is set with --run, one per call in call order.
	Results []framework.ExecutionResult `json:"results,omitempty"`
}

func newExtractCmd(a *app) *cobra.Command {
	var (
		strict, run, parallel bool
		maxWorkers            int
	)
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Recover tool calls from model output (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 && args[0] != "-" {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			opts := []extract.Option{
				extract.WithLogger(logging.New(a.cfg.LogLevel, a.cfg.LogFormat, cmd.ErrOrStderr())),
			}
			if strict {
				opts = append(opts, extract.WithStrict())
			}
			text := string(data)
			res := extract.New(opts...).ExtractDetailed(text)
			out := extractOutput{
				Calls:   res.Calls,
				Matcher: res.Matcher,
				Cascade: res.Cascade,
			}
			if out.Calls == nil {
				out.Calls = []framework.Call{}
				out.Malformed = extract.HasMalformedCallEvidence(text)
			}
			if run && len(res.Calls) > 0 {
				if cmd.Flags().Changed("parallel") {
					a.cfg.Parallel = parallel
				}
				if cmd.Flags().Changed("max-workers") {
					a.cfg.MaxWorkers = maxWorkers
				}
				err := a.withRuntime(cmd, cliutils.Options{}, func(ctx context.Context, rt *cliutils.Runtime) error {
					out.Results = rt.Executor.ExecuteBatch(ctx, res.Calls).Results
					return nil
				})
				if err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Skip the secondary recovery cascade")
	cmd.Flags().BoolVar(&run, "run", false, "Execute every recovered call against the workspace tools")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "With --run, execute calls on a worker pool")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "With --parallel, the worker pool size")
	return cmd
}
