package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/upb/agent-governance/services/subagent"
)

func (c *cli) agentsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect subagent types",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in and configured agent types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("GOVERNANCE_AGENTS_FILE")
			}
			registry, err := subagent.LoadRegistry(file)
			if err != nil {
				return err
			}
			agents := registry.List()

			if c.output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(agents)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTIMEOUT\tDESCRIPTION")
			for _, a := range agents {
				timeout := "-"
				if a.Timeout > 0 {
					timeout = a.Timeout.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, timeout, a.Description)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&file, "file", "", "Agent definitions file (default: built-ins only, or GOVERNANCE_AGENTS_FILE)")

	cmd.AddCommand(list)
	return cmd
}
