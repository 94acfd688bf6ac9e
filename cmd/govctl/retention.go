package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/upb/agent-governance/app"
	"github.com/upb/agent-governance/services/audit"
)

func (c *cli) retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Manage retention of audit rows and sessions",
	}

	var auditDays, sessionDays int
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep now",
		Long: `Run one retention sweep using the governance file windows. The flags
override a window for this run only; 0 skips that table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if auditDays < 0 || sessionDays < 0 {
				return fmt.Errorf("retention days must not be negative")
			}
			return c.withDeps(cmd, func(deps *app.Dependencies) error {
				retention := deps.Governance.Retention
				if cmd.Flags().Changed("audit-days") {
					retention.AuditDays = &auditDays
				}
				if cmd.Flags().Changed("session-days") {
					retention.SessionDays = &sessionDays
				}

				worker := audit.NewRetentionWorker(retention, deps.Repos.AuditLogs, deps.Sessions, deps.Metrics, deps.Logger)
				deleted, err := worker.SweepOnce(cmd.Context())

				tables := make([]string, 0, len(deleted))
				for table := range deleted {
					tables = append(tables, table)
				}
				sort.Strings(tables)
				for _, table := range tables {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted %d\n", table, deleted[table])
				}
				for _, t := range worker.Targets() {
					if !t.Enabled {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: retention disabled\n", t.Table)
					}
				}
				return err
			})
		},
	}
	sweep.Flags().IntVar(&auditDays, "audit-days", 0, "Audit retention window in days for this run")
	sweep.Flags().IntVar(&sessionDays, "session-days", 0, "Session retention window in days for this run")

	cmd.AddCommand(sweep)
	return cmd
}
