// Package authflow runs the OAuth 2.0 Authorization Code flow with PKCE for a
// resource server.
//
// Flow.Start registers the resource's configuration, creates a state and a
// PKCE verifier, and returns the authorization URL to open. Flow.HandleCallback
// validates the redirect and exchanges the code. The exchange goes through the
// token-injecting transport, so the token endpoint's answer is persisted and
// stripped before the flow sees it; callers never handle token material.
//
// CallbackServer is a one-shot local listener that feeds the redirect into
// HandleCallback and shows the user a result page.
package authflow
