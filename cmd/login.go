package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tokenrelay/internal/app"
	"tokenrelay/internal/authflow"
	"tokenrelay/internal/config"
	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// resourceFlags are the flags shared by login and register.
type resourceFlags struct {
	resourceServer        string
	tokenEndpoint         string
	authorizationEndpoint string
	clientID              string
	scopes                []string
}

func (f *resourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.resourceServer, "resource-server", "", "URL prefix of the protected resource server")
	cmd.Flags().StringVar(&f.tokenEndpoint, "token-endpoint", "", "token endpoint URL")
	cmd.Flags().StringVar(&f.authorizationEndpoint, "authorization-endpoint", "", "authorization endpoint URL")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "OAuth client identifier")
	cmd.Flags().StringSliceVar(&f.scopes, "scope", nil, "scope to request (repeatable)")
}

func (f *resourceFlags) config() *oauth.ResourceConfig {
	return &oauth.ResourceConfig{
		ResourceServer:        f.resourceServer,
		TokenEndpoint:         f.tokenEndpoint,
		AuthorizationEndpoint: f.authorizationEndpoint,
		ClientID:              f.clientID,
		Scopes:                f.scopes,
	}
}

var (
	loginFlags     resourceFlags
	loginIssuer    string
	loginNoBrowser bool
)

// loginCmd runs the Authorization Code flow with PKCE for one resource server.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize a resource server",
	Long: `Runs the OAuth2 Authorization Code flow with PKCE for a resource server.

A local callback server is started and the authorization URL is opened in the
default browser. After the authorization server redirects back, the code is
exchanged for tokens, which are stored in the credential store. The redirect URI
is always the local callback server; set callback.addr in the configuration to pin
its port.

Missing flags are taken from the configuration file resource with the same
resource server, then from an earlier registration. With --issuer the endpoints
are discovered from the issuer's RFC 8414 metadata instead.

Examples:
  tokenrelay login --resource-server https://api.example.com/
  tokenrelay login --resource-server https://api.example.com/ \
    --token-endpoint https://auth.example.com/token \
    --authorization-endpoint https://auth.example.com/authorize \
    --client-id my-client --scope read --scope write`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginFlags.register(loginCmd)
	loginCmd.Flags().StringVar(&loginIssuer, "issuer", "", "discover the endpoints from this issuer's authorization server metadata")
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "print the authorization URL without opening a browser")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginFlags.resourceServer == "" {
		return fmt.Errorf("--resource-server is required")
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

	flags := loginFlags.config()
	if loginIssuer != "" {
		if err := discoverEndpoints(ctx, oauth.NewClient(oauth.WithLogger(logging.Logger())), loginIssuer, flags); err != nil {
			return err
		}
	}

	resource, err := resolveResource(ctx, cfg, services.Credentials, flags)
	if err != nil {
		return err
	}

	callback := authflow.NewCallbackServer(cfg.Callback.Addr, services.Flow.HandleCallback)
	redirectURI, err := callback.Start(ctx)
	if err != nil {
		return err
	}
	defer callback.Stop()
	resource.RedirectURI = redirectURI

	authURL, err := services.Flow.Start(ctx, resource)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authorizing %s\n", resource.ResourceServer)
	fmt.Fprintf(out, "Open this URL to continue:\n\n  %s\n\n", authURL)
	if !loginNoBrowser {
		if err := authflow.OpenBrowser(authURL); err != nil {
			logging.Warn("CLI", "Could not open browser: %v", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, authflow.CallbackTimeout)
	defer cancel()
	stop := startWaitIndicator(out, "Waiting for authorization...")
	result, err := callback.Wait(waitCtx)
	stop()
	if err != nil {
		fmt.Fprintf(out, "%s %v\n", text.FgRed.Sprint("Authorization failed:"), err)
		return err
	}

	fmt.Fprintf(out, "%s %s\n", text.FgGreen.Sprint("Authorized"), result.ResourceServer)
	if result.Scope != "" {
		fmt.Fprintf(out, "  Scope:      %s\n", result.Scope)
	}
	if result.ExpiresIn > 0 {
		fmt.Fprintf(out, "  Expires in: %ds\n", result.ExpiresIn)
	}
	return nil
}

// startWaitIndicator shows a spinner with msg until stop is called. Output
// that is not a terminal gets msg as a plain line instead.
func startWaitIndicator(out io.Writer, msg string) (stop func()) {
	if !isTerminal(out) {
		fmt.Fprintln(out, msg)
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// resolveResource fills the fields missing from flags, first from the
// configuration file and then from a stored registration.
func resolveResource(ctx context.Context, cfg config.Config, creds *store.CredentialStore, flags *oauth.ResourceConfig) (*oauth.ResourceConfig, error) {
	resource := *flags
	if r, ok := cfg.Resource(resource.ResourceServer); ok {
		mergeResource(&resource, r.OAuth())
	}

	if resource.TokenEndpoint == "" || resource.AuthorizationEndpoint == "" || resource.ClientID == "" {
		stored, err := creds.ResourceConfigs(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			if s.ResourceServer == resource.ResourceServer {
				mergeResource(&resource, s)
				break
			}
		}
	}

	var missing []string
	if resource.TokenEndpoint == "" {
		missing = append(missing, "--token-endpoint")
	}
	if resource.AuthorizationEndpoint == "" {
		missing = append(missing, "--authorization-endpoint")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no registration found for %s; set %s", resource.ResourceServer, strings.Join(missing, " and "))
	}
	return &resource, nil
}

// discoverEndpoints fills the endpoints missing from resource with the
// issuer's authorization server metadata.
func discoverEndpoints(ctx context.Context, client *oauth.Client, issuer string, resource *oauth.ResourceConfig) error {
	metadata, err := client.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return fmt.Errorf("failed to discover endpoints for %s: %w", issuer, err)
	}
	if !metadata.SupportsPKCE() {
		logging.Warn("CLI", "Issuer %s does not advertise S256 PKCE support", issuer)
	}
	mergeResource(resource, &oauth.ResourceConfig{
		TokenEndpoint:         metadata.TokenEndpoint,
		AuthorizationEndpoint: metadata.AuthorizationEndpoint,
	})
	return nil
}

func mergeResource(dst, src *oauth.ResourceConfig) {
	if dst.TokenEndpoint == "" {
		dst.TokenEndpoint = src.TokenEndpoint
	}
	if dst.AuthorizationEndpoint == "" {
		dst.AuthorizationEndpoint = src.AuthorizationEndpoint
	}
	if dst.ClientID == "" {
		dst.ClientID = src.ClientID
	}
	if len(dst.Scopes) == 0 {
		dst.Scopes = src.Scopes
	}
}
