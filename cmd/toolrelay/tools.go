package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lexcodex/toolrelay/cmd/internal/cliutils"
	"github.com/lexcodex/toolrelay/framework"
)

func newToolsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, _, err := cliutils.BuildToolRegistry(a.cfg, nil)
			if err != nil {
				return err
			}
			if asJSON {
				type schemaOut struct {
					Name        string      `json:"name"`
					Description string      `json:"description"`
					Parameters  interface{} `json:"parameters"`
				}
				var out []schemaOut
				for _, tool := range registry.All() {
					out = append(out, schemaOut{tool.Name(), tool.Description(), framework.ParameterSchema(tool.Parameters())})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, tool := range registry.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name(), paramSummary(tool.Parameters()), tool.Description())
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print parameter schemas as JSON")
	return cmd
}

func paramSummary(params []framework.ToolParameter) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		parts = append(parts, name)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
