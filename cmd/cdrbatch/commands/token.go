package commands

import (
	"fmt"

	setup "github.com/cdrtools/cdrbatch/config"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cdrtools/cdrbatch/web"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	tokenUser  types.User
	tokenPerms []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for the web pages and JSON API",
	Long: `Issue a session token signed with secret_key. Pass it as the Session query
parameter, the session cookie or the X-Session header.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := setup.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.SecretKey == "" {
			return errors.New("secret_key is not configured")
		}
		if tokenUser.Name == "" {
			return errors.New("--name is required")
		}
		if tokenUser.ID == "" {
			tokenUser.ID = tokenUser.Name
		}
		tokenUser.Permissions = tokenPerms

		tok, err := web.IssueToken(tokenUser, cfg.SecretKey)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser.Name, "name", "", "user name")
	tokenCmd.Flags().StringVar(&tokenUser.ID, "id", "", "user id (defaults to the name)")
	tokenCmd.Flags().StringVar(&tokenUser.Email, "email", "", "default notification address")
	tokenCmd.Flags().StringSliceVar(&tokenPerms, "perm", nil, "permission, e.g. "+types.PermManageBatchJobs)
}
