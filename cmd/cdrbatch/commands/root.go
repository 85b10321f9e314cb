package commands

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cdrtools/cdrbatch/app"
	setup "github.com/cdrtools/cdrbatch/config"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cdrbatch",
	Short: "CDR batch job service",
	Long: `cdrbatch records long-running CDR batch jobs, serves their status pages and
mails subscribers when a job finishes.

Configuration comes from cdrbatch.toml (or --config) overlaid with
CDRBATCH_* environment variables.

Examples:
  cdrbatch serve                          # HTTP server and maintenance scheduler
  cdrbatch submit --name "Glossary Report" --command Run --email ed@example.org
  cdrbatch search --age 7 --status completed
  cdrbatch transition 42 in_process`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to cdrbatch.toml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(stalledCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(tokenCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

func openContainer(ctx context.Context, opts ...app.ContainerOption) (*app.Container, error) {
	cfg, err := setup.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.NewContainer(ctx, cfg, opts...)
}

// operator is the identity used for administrative commands run from a
// shell on the server, which already has direct database access.
func operator(name string) *types.User {
	return &types.User{
		ID:          name,
		Name:        name,
		Permissions: []string{types.PermManageBatchJobs, types.PermPurgeBatchJobs},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
