package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/upb/agent-governance/services/redaction"
)

func (c *cli) redactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redact",
		Short: "Scrub credentials from stdin and write the result to stdout",
		Long: `redact applies the same patterns the server uses on tool output. The
scrubbed text goes to stdout and a summary of findings to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			out, findings := redaction.NewEngine(redaction.DefaultMatchers()...).Scan(string(in))
			if _, err := io.WriteString(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if len(findings) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "redacted %d value(s): %s\n",
					len(findings), strings.Join(redaction.DistinctTypes(findings), ", "))
			}
			return nil
		},
	}
}
