package mock

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSigningKey signs the mock access tokens (HS256).
var DefaultSigningKey = []byte("tokenrelay-mock-signing-key")

// OAuthServerConfig configures the mock OAuth server behavior
type OAuthServerConfig struct {
	// ClientID is the expected OAuth client ID. Empty accepts any client.
	ClientID string

	// TokenLifetime is reported as expires_in. Defaults to one hour.
	TokenLifetime time.Duration

	// OmitExpiresIn leaves expires_in out of token responses.
	OmitExpiresIn bool

	// OmitTokenType leaves token_type out of token responses.
	OmitTokenType bool

	// RotateRefreshTokens issues a new refresh token on every refresh.
	// Otherwise the refresh response carries no refresh_token.
	RotateRefreshTokens bool

	// PKCERequired rejects code exchanges without a valid code_verifier.
	PKCERequired bool

	// TokenDelay delays every token endpoint response.
	TokenDelay time.Duration

	// SimulateErrors can be set to simulate various error conditions
	SimulateErrors *OAuthErrorSimulation

	// Clock drives token expiry. Defaults to RealClock.
	Clock Clock

	// SigningKey signs access tokens. Defaults to DefaultSigningKey.
	SigningKey []byte
}

// OAuthErrorSimulation allows simulating error conditions
type OAuthErrorSimulation struct {
	// TokenEndpointStatus makes /token answer with this status and "server_error".
	TokenEndpointStatus int

	// InvalidGrant rejects all grants with "invalid_grant".
	InvalidGrant bool
}

// OAuthServer is a mock OAuth 2.1 authorization server backed by httptest.
type OAuthServer struct {
	config OAuthServerConfig
	server *httptest.Server
	clock  Clock

	mu             sync.RWMutex
	simulateErrors *OAuthErrorSimulation
	authCodes      map[string]*authCodeEntry // code -> entry
	issuedTokens   map[string]*issuedToken   // access_token -> token info
	lastForm       url.Values

	tokenRequests   atomic.Int32
	refreshRequests atomic.Int32
}

type authCodeEntry struct {
	ClientID        string
	RedirectURI     string
	Scope           string
	CodeChallenge   string
	ChallengeMethod string
}

type issuedToken struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ClientID     string
	ExpiresAt    time.Time
}

// TokenResponse is the OAuth token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// NewOAuthServer creates and starts a mock OAuth server. Call Close when done.
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if len(config.SigningKey) == 0 {
		config.SigningKey = DefaultSigningKey
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	s := &OAuthServer{
		config:         config,
		clock:          clock,
		simulateErrors: config.SimulateErrors,
		authCodes:      make(map[string]*authCodeEntry),
		issuedTokens:   make(map[string]*issuedToken),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)
	s.server = httptest.NewServer(mux)
	return s
}

// Close shuts the server down.
func (s *OAuthServer) Close() {
	s.server.Close()
}

// URL returns the issuer base URL.
func (s *OAuthServer) URL() string {
	return s.server.URL
}

// TokenURL returns the token endpoint.
func (s *OAuthServer) TokenURL() string {
	return s.server.URL + "/token"
}

// AuthorizeURL returns the authorization endpoint.
func (s *OAuthServer) AuthorizeURL() string {
	return s.server.URL + "/authorize"
}

// TokenRequests returns how many requests reached /token.
func (s *OAuthServer) TokenRequests() int {
	return int(s.tokenRequests.Load())
}

// RefreshRequests returns how many refresh_token grants reached /token.
func (s *OAuthServer) RefreshRequests() int {
	return int(s.refreshRequests.Load())
}

// LastForm returns the form of the most recent token request.
func (s *OAuthServer) LastForm() url.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastForm
}

// SetSimulateErrors replaces the error simulation at runtime. nil disables it.
func (s *OAuthServer) SetSimulateErrors(sim *OAuthErrorSimulation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulateErrors = sim
}

// GenerateAuthCode registers an authorization code as if the user approved the request.
func (s *OAuthServer) GenerateAuthCode(clientID, redirectURI, scope, codeChallenge, codeChallengeMethod string) string {
	code := generateOpaqueToken()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code] = &authCodeEntry{
		ClientID:        clientID,
		RedirectURI:     redirectURI,
		Scope:           scope,
		CodeChallenge:   codeChallenge,
		ChallengeMethod: codeChallengeMethod,
	}
	return code
}

// IssueToken mints a token pair without going through the token endpoint.
func (s *OAuthServer) IssueToken(clientID, scope string) *TokenResponse {
	tok := s.issue(clientID, scope, generateOpaqueToken())
	return &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.TokenLifetime.Seconds()),
		Scope:        scope,
	}
}

// ValidateToken reports whether accessToken was issued here and has not expired.
func (s *OAuthServer) ValidateToken(accessToken string) bool {
	s.mu.RLock()
	tok, ok := s.issuedTokens[accessToken]
	s.mu.RUnlock()
	return ok && s.clock.Now().Before(tok.ExpiresAt)
}

// RevokeToken invalidates an access token. It returns false when unknown.
func (s *OAuthServer) RevokeToken(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issuedTokens[accessToken]; !ok {
		return false
	}
	delete(s.issuedTokens, accessToken)
	return true
}

// RevokeAllTokens invalidates every issued access token and returns how many there were.
func (s *OAuthServer) RevokeAllTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.issuedTokens)
	s.issuedTokens = make(map[string]*issuedToken)
	return n
}

func (s *OAuthServer) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                           s.server.URL,
		"authorization_endpoint":           s.AuthorizeURL(),
		"token_endpoint":                   s.TokenURL(),
		"grant_types_supported":            []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported": []string{"S256"},
	})
}

// handleAuthorize auto-approves and redirects back with a code.
func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	params := target.Query()
	if s.config.ClientID != "" && q.Get("client_id") != s.config.ClientID {
		params.Set("error", "unauthorized_client")
		params.Set("error_description", "unknown client")
	} else {
		code := s.GenerateAuthCode(q.Get("client_id"), redirectURI, q.Get("scope"),
			q.Get("code_challenge"), q.Get("code_challenge_method"))
		params.Set("code", code)
	}
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	s.tokenRequests.Add(1)
	if s.config.TokenDelay > 0 {
		time.Sleep(s.config.TokenDelay)
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.lastForm = r.PostForm
	sim := s.simulateErrors
	s.mu.Unlock()

	grantType := r.PostForm.Get("grant_type")
	if grantType == "refresh_token" {
		s.refreshRequests.Add(1)
	}

	if sim != nil {
		if sim.TokenEndpointStatus != 0 {
			writeOAuthError(w, sim.TokenEndpointStatus, "server_error", "simulated failure")
			return
		}
		if sim.InvalidGrant {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "grant rejected")
			return
		}
	}

	switch grantType {
	case "authorization_code":
		s.handleAuthCodeExchange(w, r.PostForm)
	case "refresh_token":
		s.handleRefreshToken(w, r.PostForm)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type",
			fmt.Sprintf("grant_type %s not supported", grantType))
	}
}

func (s *OAuthServer) handleAuthCodeExchange(w http.ResponseWriter, form url.Values) {
	code := form.Get("code")

	s.mu.Lock()
	entry, exists := s.authCodes[code]
	if exists {
		delete(s.authCodes, code)
	}
	s.mu.Unlock()

	if !exists {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code not found or expired")
		return
	}
	if entry.RedirectURI != "" && form.Get("redirect_uri") != entry.RedirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if entry.CodeChallenge != "" || s.config.PKCERequired {
		if !verifyPKCE(entry.CodeChallenge, entry.ChallengeMethod, form.Get("code_verifier")) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier verification failed")
			return
		}
	}

	tok := s.issue(entry.ClientID, entry.Scope, generateOpaqueToken())
	s.writeToken(w, tok, true)
}

func (s *OAuthServer) handleRefreshToken(w http.ResponseWriter, form url.Values) {
	refreshToken := form.Get("refresh_token")

	var original *issuedToken
	s.mu.RLock()
	for _, tok := range s.issuedTokens {
		if tok.RefreshToken == refreshToken {
			original = tok
			break
		}
	}
	s.mu.RUnlock()

	if original == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token not found")
		return
	}

	nextRefresh := original.RefreshToken
	if s.config.RotateRefreshTokens {
		nextRefresh = generateOpaqueToken()
	}

	s.mu.Lock()
	delete(s.issuedTokens, original.AccessToken)
	s.mu.Unlock()

	tok := s.issue(original.ClientID, original.Scope, nextRefresh)
	s.writeToken(w, tok, s.config.RotateRefreshTokens)
}

func (s *OAuthServer) issue(clientID, scope, refreshToken string) *issuedToken {
	now := s.clock.Now()
	tok := &issuedToken{
		AccessToken:  s.signAccessToken(clientID, scope, now),
		RefreshToken: refreshToken,
		Scope:        scope,
		ClientID:     clientID,
		ExpiresAt:    now.Add(s.config.TokenLifetime),
	}
	s.mu.Lock()
	s.issuedTokens[tok.AccessToken] = tok
	s.mu.Unlock()
	return tok
}

// signAccessToken returns an HS256 JWT so clients can display its claims.
func (s *OAuthServer) signAccessToken(clientID, scope string, now time.Time) string {
	claims := jwt.MapClaims{
		"iss":       s.server.URL,
		"sub":       "test-user",
		"client_id": clientID,
		"scope":     scope,
		"iat":       now.Unix(),
		"exp":       now.Add(s.config.TokenLifetime).Unix(),
		"jti":       uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.SigningKey)
	if err != nil {
		return generateOpaqueToken()
	}
	return signed
}

func (s *OAuthServer) writeToken(w http.ResponseWriter, tok *issuedToken, includeRefresh bool) {
	resp := TokenResponse{
		AccessToken: tok.AccessToken,
		Scope:       tok.Scope,
	}
	if !s.config.OmitTokenType {
		resp.TokenType = "Bearer"
	}
	if !s.config.OmitExpiresIn {
		resp.ExpiresIn = int(s.config.TokenLifetime.Seconds())
	}
	if includeRefresh {
		resp.RefreshToken = tok.RefreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func verifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" || verifier == "" || !strings.EqualFold(method, "S256") {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func generateOpaqueToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ExtractBearerToken extracts the token from an "Authorization: Bearer <token>" value.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return authHeader[7:]
	}
	return ""
}
