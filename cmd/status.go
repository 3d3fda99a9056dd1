package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tokenrelay/internal/app"
	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// Status-specific flags
var (
	statusResource string
	statusOutput   string
	statusClaims   bool
)

// statusCmd shows the registered resources and the state of their tokens.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registered resource servers and token state",
	Long: `Lists every registered resource server with its token endpoint and the state
of its stored tokens. Token values are never printed.

With --resource-server the command exits with code 2 when that resource has
neither an access token nor a refresh token, so scripts can decide to run
'tokenrelay login'.

Examples:
  tokenrelay status
  tokenrelay status --resource-server https://api.example.com/ --claims
  tokenrelay status -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusResource, "resource-server", "", "only show this resource server")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table or json")
	statusCmd.Flags().BoolVar(&statusClaims, "claims", false, "decode JWT access tokens and show their claims (unverified)")
}

// resourceStatus is one row of status output.
type resourceStatus struct {
	ResourceServer  string         `json:"resource_server"`
	TokenEndpoint   string         `json:"token_endpoint"`
	ClientID        string         `json:"client_id,omitempty"`
	HasAccessToken  bool           `json:"has_access_token"`
	HasRefreshToken bool           `json:"has_refresh_token"`
	Expired         bool           `json:"expired"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Claims          map[string]any `json:"claims,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusOutput != "table" && statusOutput != "json" {
		return fmt.Errorf("unsupported output format %q", statusOutput)
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

	rows, err := collectStatus(ctx, services.Credentials, services.Coordinator.Now())
	if err != nil {
		return err
	}

	if statusResource != "" {
		rows = filterStatus(rows, statusResource)
		if len(rows) == 0 {
			return fmt.Errorf("%s is not registered", statusResource)
		}
	}

	out := cmd.OutOrStdout()
	if statusOutput == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return err
		}
	} else {
		renderStatus(out, rows)
	}

	if statusResource != "" && !rows[0].HasAccessToken && !rows[0].HasRefreshToken {
		return fmt.Errorf("%s: %w", statusResource, oauth.ErrReauthorizationRequired)
	}
	return nil
}

func collectStatus(ctx context.Context, creds *store.CredentialStore, now time.Time) ([]resourceStatus, error) {
	configs, err := creds.ResourceConfigs(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]resourceStatus, 0, len(configs))
	for _, cfg := range configs {
		rec, err := creds.TokenRecord(ctx, cfg.ResourceServer)
		if err != nil {
			return nil, err
		}

		row := resourceStatus{
			ResourceServer:  cfg.ResourceServer,
			TokenEndpoint:   cfg.TokenEndpoint,
			ClientID:        cfg.ClientID,
			HasAccessToken:  !rec.IsEmpty(),
			HasRefreshToken: rec != nil && rec.RefreshToken != "",
			Expired:         !rec.IsEmpty() && rec.IsExpired(now),
		}
		if expiresAt := rec.ExpiresAt(); !expiresAt.IsZero() {
			row.ExpiresAt = &expiresAt
		}
		if statusClaims && !rec.IsEmpty() {
			row.Claims = unverifiedClaims(rec.AccessToken)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func filterStatus(rows []resourceStatus, resourceServer string) []resourceStatus {
	for _, row := range rows {
		if row.ResourceServer == resourceServer {
			return []resourceStatus{row}
		}
	}
	return nil
}

// unverifiedClaims decodes a JWT access token for display. Opaque tokens
// return nil. The signature is not checked.
func unverifiedClaims(token string) map[string]any {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		logging.Debug("CLI", "Access token is not a JWT: %v", err)
		return nil
	}
	return claims
}

func renderStatus(out io.Writer, rows []resourceStatus) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No resource servers registered. Use 'tokenrelay register' or 'tokenrelay login'.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Resource Server", "Token Endpoint", "Client ID", "Access Token", "Refresh Token", "Expires"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.ResourceServer,
			row.TokenEndpoint,
			row.ClientID,
			accessTokenState(row),
			yesNo(row.HasRefreshToken),
			formatExpiry(row.ExpiresAt),
		})
	}
	t.Render()

	for _, row := range rows {
		if len(row.Claims) == 0 {
			continue
		}
		fmt.Fprintf(out, "\nClaims for %s (unverified):\n", row.ResourceServer)
		for _, key := range slices.Sorted(maps.Keys(row.Claims)) {
			fmt.Fprintf(out, "  %-10s %v\n", key+":", row.Claims[key])
		}
	}
}

func accessTokenState(row resourceStatus) string {
	switch {
	case !row.HasAccessToken:
		return text.FgRed.Sprint("missing")
	case row.Expired:
		return text.FgYellow.Sprint("expired")
	default:
		return text.FgGreen.Sprint("valid")
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
