package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"tokenrelay/internal/app"
	"tokenrelay/pkg/logging"
)

var registerFlags resourceFlags

// registerCmd stores a resource configuration without authorizing it.
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a resource server and its token endpoint",
	Long: `Stores a resource configuration in the credential store. An existing
registration with the same token endpoint is overwritten.

Token endpoint responses for a registered resource that pass through the proxy
are stored, so a client can run its own authorization through the proxy instead
of using 'tokenrelay login'.

Example:
  tokenrelay register --resource-server https://api.example.com/ \
    --token-endpoint https://auth.example.com/token --client-id my-client`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

func init() {
	registerFlags.register(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	resource := registerFlags.config()
	for flag, value := range map[string]string{
		"--resource-server": resource.ResourceServer,
		"--token-endpoint":  resource.TokenEndpoint,
	} {
		u, err := url.Parse(value)
		if value == "" || err != nil || !u.IsAbs() {
			return fmt.Errorf("%s must be an absolute URL", flag)
		}
	}

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

	if err := services.Credentials.PutResourceConfig(ctx, resource); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (token endpoint %s)\n", resource.ResourceServer, resource.TokenEndpoint)
	return nil
}
