package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tokenrelay/internal/app"
	"tokenrelay/pkg/logging"
)

var logoutForget bool

// logoutCmd clears the stored tokens of a resource server.
var logoutCmd = &cobra.Command{
	Use:   "logout <resource-server>",
	Short: "Clear the stored tokens of a resource server",
	Long: `Removes the access token, refresh token and expiry of a resource server from
the credential store. Requests for it pass through the proxy unmodified until the
next 'tokenrelay login'.

With --forget the resource registration is removed as well.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutForget, "forget", false, "also remove the resource registration")
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	services, err := app.InitializeServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			logging.Error("CLI", err, "Failed to close services")
		}
	}()

	resourceServer := args[0]
	if logoutForget {
		if err := services.Coordinator.Forget(ctx, resourceServer); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", resourceServer)
		return nil
	}

	if err := services.Coordinator.Clear(ctx, resourceServer); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared tokens for %s\n", resourceServer)
	return nil
}
