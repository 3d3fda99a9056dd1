package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenType is used when the token endpoint omits token_type.
const DefaultTokenType = "Bearer"

// ResourceConfig describes one protected resource server and the token
// endpoint that mints tokens for it. Configs are keyed by TokenEndpoint.
type ResourceConfig struct {
	// ResourceServer is the URL prefix of requests that get a token attached.
	ResourceServer string `json:"resource_server" yaml:"resourceServer"`

	// TokenEndpoint is the URL used for code exchange and refresh.
	TokenEndpoint string `json:"token_endpoint" yaml:"tokenEndpoint"`

	// ClientID is the OAuth client identifier.
	ClientID string `json:"client_id" yaml:"clientId"`

	// AuthorizationEndpoint, RedirectURI and Scopes are only needed to start
	// an interactive authorization.
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty" yaml:"authorizationEndpoint,omitempty"`
	RedirectURI           string   `json:"redirect_uri,omitempty" yaml:"redirectUri,omitempty"`
	Scopes                []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Matches reports whether a request URL falls under this resource server.
func (c *ResourceConfig) Matches(rawURL string) bool {
	return c.ResourceServer != "" && strings.HasPrefix(rawURL, c.ResourceServer)
}

// TokenResponse is the JSON document returned by a token endpoint.
// Fields other than the well-known ones are kept in Extra.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// Extra holds every other top-level field of the response.
	Extra map[string]any `json:"-"`
}

// TokenRecord is the persisted token state for one resource server.
// Access token, refresh token and expiry metadata are always written together.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the lifetime in seconds reported by the token endpoint.
	// Zero or negative means the endpoint did not report one.
	ExpiresIn int64 `json:"expires_in"`

	// IssuedAt is the unix time (seconds) at which the record was stored.
	IssuedAt int64 `json:"issued_at"`
}

// NewTokenRecord builds a record from a token response issued at now.
// previousRefresh is kept when the endpoint does not rotate the refresh token,
// and a missing token_type defaults to Bearer.
func NewTokenRecord(resp *TokenResponse, previousRefresh string, now time.Time) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		IssuedAt:     now.Unix(),
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = previousRefresh
	}
	if rec.TokenType == "" {
		rec.TokenType = DefaultTokenType
	}
	return rec
}

// IsEmpty reports whether the record carries no usable access token.
func (r *TokenRecord) IsEmpty() bool {
	return r == nil || r.AccessToken == ""
}

// IsExpired reports whether now - issued_at > expires_in.
// Records without a reported lifetime never expire proactively.
func (r *TokenRecord) IsExpired(now time.Time) bool {
	if r == nil || r.ExpiresIn <= 0 {
		return false
	}
	return now.Unix()-r.IssuedAt > r.ExpiresIn
}

// ExpiresAt returns the expiry instant, or the zero time when unknown.
func (r *TokenRecord) ExpiresAt() time.Time {
	if r == nil || r.ExpiresIn <= 0 {
		return time.Time{}
	}
	return time.Unix(r.IssuedAt+r.ExpiresIn, 0)
}

// AuthorizationHeader formats the Authorization header value "<token_type> <access_token>".
func (r *TokenRecord) AuthorizationHeader() string {
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return tokenType + " " + r.AccessToken
}

// ToOAuth2Token converts the record to an oauth2.Token for compatibility with golang.org/x/oauth2.
func (r *TokenRecord) ToOAuth2Token() *oauth2.Token {
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    tokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt(),
	}
}

// Metadata represents OAuth 2.0 Authorization Server Metadata as defined in RFC 8414.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == ChallengeMethodS256 {
			return true
		}
	}
	// If not specified, assume S256 is supported (OAuth 2.1 requirement)
	return len(m.CodeChallengeMethodsSupported) == 0
}

// AuthChallenge represents parsed information from a WWW-Authenticate header.
type AuthChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer").
	Scheme string

	// Realm is the protection realm.
	Realm string

	// Scope is the space-separated list of required OAuth scopes.
	Scope string

	// Error is the error code from the header, e.g. "invalid_token".
	Error string

	// ErrorDescription is a human-readable error description (if any).
	ErrorDescription string
}

// IsInvalidToken reports whether the resource server rejected the presented token.
func (c *AuthChallenge) IsInvalidToken() bool {
	return c != nil && c.Error == "invalid_token"
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept secret until the token exchange.
	CodeVerifier string

	// CodeChallenge is sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}
