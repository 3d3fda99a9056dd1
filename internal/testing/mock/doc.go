// Package mock provides test doubles for tokenrelay components.
//
// Key Components:
//
// Clock / MockClock: a controllable time source so tests can move past
// token expiry without sleeping.
//
// OAuthServer: a mock OAuth 2.1 authorization server (httptest) with an
// auto-approving /authorize endpoint, a /token endpoint supporting the
// authorization_code (with PKCE verification) and refresh_token grants,
// RFC 8414 metadata, request counters and error simulation. Access tokens
// are HS256 JWTs.
//
// ProtectedResource: a resource server that answers 401 with a
// WWW-Authenticate challenge unless the request carries a live token
// issued by the OAuthServer, and records the headers it received.
//
// Usage:
//
//	authServer := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "client"})
//	defer authServer.Close()
//	api := mock.NewProtectedResource(authServer)
//	defer api.Close()
//
//	tok := authServer.IssueToken("client", "read")
package mock
