package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tokenrelay/internal/config"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the user has to run login again.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the authorization flow failed.
	ExitCodeAuthFailed = 3
)

// Global flags shared by every subcommand.
var (
	configPath string
	logLevel   string
	envFile    string
)

// rootCmd represents the base command for the tokenrelay application.
var rootCmd = &cobra.Command{
	Use:   "tokenrelay",
	Short: "Attach OAuth2 access tokens to outgoing HTTP requests",
	Long: `tokenrelay runs a local forward proxy that attaches OAuth2 access tokens to
requests for registered resource servers. Expired tokens are refreshed before the
request is sent, and a rejected token is refreshed and the request retried once.

Use 'tokenrelay login' to authorize a resource server with the Authorization Code
flow (PKCE), then point HTTP clients at the proxy started by 'tokenrelay serve'.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage:      true,
	PersistentPreRunE: initCLI,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tokenrelay version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, oauth.ErrReauthorizationRequired):
		return ExitCodeAuthRequired
	case errors.Is(err, oauth.ErrAuthorization):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

// initCLI loads the env file and configures logging before any subcommand runs.
func initCLI(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	level := logging.LevelWarn
	if logLevel != "" {
		parsed, ok := logging.ParseLevel(logLevel)
		if !ok {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		level = parsed
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())
	return nil
}

// loadConfig reads and validates the configuration selected by --config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// configFilePath is the file serve watches for changes.
func configFilePath() string {
	if configPath != "" {
		return configPath
	}
	p, err := config.DefaultConfigPath()
	if err != nil {
		return ""
	}
	return p
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/tokenrelay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with KEY=value environment overrides")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(statusCmd)
}
