// Command govctl administers a governance deployment: it queries the audit
// trail, runs retention sweeps, scrubs text and lists agent types.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/app"
	"github.com/upb/agent-governance/config"
	"github.com/upb/agent-governance/internal/observability"
)

// opener builds the dependency graph for commands that touch the store.
type opener func(ctx context.Context, logger *zap.Logger) (*app.Dependencies, error)

func openFromEnv(ctx context.Context, logger *zap.Logger) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}
	return app.NewDependencies(ctx, cfg, logger)
}

type cli struct {
	open     opener
	logLevel string
	output   string
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "govctl",
		Short: "Administer the agent governance service",
		Long: `govctl talks to the governance store directly, using the same environment
and governance files as the server.

Commands:
  audit list        Query the audit trail
  retention sweep   Delete audit rows and sessions past their retention window
  redact            Scrub credentials from stdin
  agents list       Show configured subagent types`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "Output format (table, json)")

	root.AddCommand(
		c.auditCmd(),
		c.retentionCmd(),
		c.redactCmd(),
		c.agentsCmd(),
	)
	return root
}

// withDeps opens the dependencies, runs fn and closes them again.
func (c *cli) withDeps(cmd *cobra.Command, fn func(deps *app.Dependencies) error) error {
	logger, err := observability.NewLogger(c.logLevel, "console")
	if err != nil {
		return err
	}
	deps, err := c.open(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer deps.Close(cmd.Context())
	return fn(deps)
}

func main() {
	if err := newRootCmd(openFromEnv).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
