// Package oauth provides the OAuth 2.1 protocol pieces shared by the
// interception proxy, the refresh coordinator and the authorization flow.
//
// # Core Components
//
//   - PKCE: verifier, state and S256 challenge generation (RFC 7636)
//   - TokenRecord: persisted token state with expiry checking
//   - ResourceConfig: a protected resource server and its token endpoint
//   - Client: token endpoint protocol (code exchange, refresh grant) and
//     metadata discovery (RFC 8414)
//   - Errors: the failure kinds (authorization, refresh, re-authorization,
//     clear, storage) as typed errors matching sentinel values
//
// # Usage
//
//	pkce, err := oauth.GeneratePKCE()
//	state, err := oauth.GenerateState()
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	authURL, err := client.BuildAuthorizationURL(cfg.AuthorizationEndpoint,
//	    cfg.ClientID, cfg.RedirectURI, state, cfg.Scopes, pkce)
//
//	resp, err := client.RefreshToken(ctx, cfg.TokenEndpoint, refreshToken, cfg.ClientID)
//	if errors.Is(err, oauth.ErrReauthorizationRequired) { ... }
package oauth
