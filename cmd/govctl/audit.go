package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/agent-governance/app"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/repositories"
)

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}

	var (
		filter repositories.AuditFilter
		action string
		since  time.Duration
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since < 0 {
				return fmt.Errorf("--since must not be negative")
			}
			filter.Action = models.AuditAction(action)
			if since > 0 {
				start := time.Now().Add(-since)
				filter.Start = &start
			}
			return c.withDeps(cmd, func(deps *app.Dependencies) error {
				entries, err := deps.Audit.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return c.printEntries(cmd.OutOrStdout(), entries)
			})
		},
	}
	list.Flags().StringVar(&filter.SessionID, "session", "", "Only entries for this session")
	list.Flags().StringVar(&filter.UserID, "user", "", "Only entries for this user")
	list.Flags().StringVar(&action, "action", "", "Only this action, e.g. policy.deny")
	list.Flags().DurationVar(&since, "since", 0, "Only entries newer than this, e.g. 24h")
	list.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum entries to return (max 100)")

	cmd.AddCommand(list)
	return cmd
}

func (c *cli) printEntries(w io.Writer, entries []*models.AuditEntry) error {
	if c.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []*models.AuditEntry{}
		}
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tSESSION\tTOOL\tDECISION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339),
			e.Action,
			orDash(e.SessionID),
			orDash(e.Tool),
			orDash(e.Decision))
	}
	return tw.Flush()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
