package mock

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenrelay/pkg/oauth"
)

func postForm(t *testing.T, endpoint string, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(endpoint, form)
	require.NoError(t, err)
	defer resp.Body.Close()

	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestOAuthServer_AuthorizationCodeFlow(t *testing.T) {
	s := NewOAuthServer(OAuthServerConfig{ClientID: "client", PKCERequired: true})
	defer s.Close()

	pkce, err := oauth.GeneratePKCE()
	require.NoError(t, err)

	// Authorize without following the redirect.
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	authURL := s.AuthorizeURL() + "?" + url.Values{
		"client_id":             {"client"},
		"redirect_uri":          {"http://localhost/callback"},
		"state":                 {"xyz"},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {"S256"},
	}.Encode()
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	t.Run("wrong verifier is rejected", func(t *testing.T) {
		other := s.GenerateAuthCode("client", "http://localhost/callback", "", pkce.CodeChallenge, "S256")
		resp, body := postForm(t, s.TokenURL(), url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {other},
			"redirect_uri":  {"http://localhost/callback"},
			"code_verifier": {"wrong"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	resp, body := postForm(t, s.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"client"},
		"redirect_uri":  {"http://localhost/callback"},
		"code_verifier": {pkce.CodeVerifier},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access, _ := body["access_token"].(string)
	assert.True(t, s.ValidateToken(access))
	assert.NotEmpty(t, body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, 3600.0, body["expires_in"])

	// Codes are single use.
	resp, _ = postForm(t, s.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"http://localhost/callback"},
		"code_verifier": {pkce.CodeVerifier},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 3, s.TokenRequests())
}

func TestOAuthServer_Refresh(t *testing.T) {
	t.Run("without rotation keeps refresh token server side", func(t *testing.T) {
		s := NewOAuthServer(OAuthServerConfig{})
		defer s.Close()
		tok := s.IssueToken("client", "read")

		resp, body := postForm(t, s.TokenURL(), url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tok.RefreshToken}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, body, "refresh_token")
		assert.False(t, s.ValidateToken(tok.AccessToken), "old access token is replaced")
		assert.True(t, s.ValidateToken(body["access_token"].(string)))
		assert.Equal(t, 1, s.RefreshRequests())

		resp, _ = postForm(t, s.TokenURL(), url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tok.RefreshToken}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("with rotation returns a new refresh token", func(t *testing.T) {
		s := NewOAuthServer(OAuthServerConfig{RotateRefreshTokens: true})
		defer s.Close()
		tok := s.IssueToken("client", "read")

		_, body := postForm(t, s.TokenURL(), url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tok.RefreshToken}})
		assert.NotEqual(t, tok.RefreshToken, body["refresh_token"])

		resp, _ := postForm(t, s.TokenURL(), url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tok.RefreshToken}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "rotated refresh token is spent")
	})

	t.Run("simulated errors", func(t *testing.T) {
		s := NewOAuthServer(OAuthServerConfig{SimulateErrors: &OAuthErrorSimulation{TokenEndpointStatus: http.StatusServiceUnavailable}})
		defer s.Close()

		resp, body := postForm(t, s.TokenURL(), url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "server_error", body["error"])

		s.SetSimulateErrors(&OAuthErrorSimulation{InvalidGrant: true})
		resp, body = postForm(t, s.TokenURL(), url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_grant", body["error"])
	})
}

func TestOAuthServer_TokenExpiry(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewOAuthServer(OAuthServerConfig{Clock: clock, TokenLifetime: time.Minute})
	defer s.Close()

	tok := s.IssueToken("client", "")
	assert.True(t, s.ValidateToken(tok.AccessToken))

	clock.Advance(2 * time.Minute)
	assert.False(t, s.ValidateToken(tok.AccessToken))
}

func TestOAuthServer_AccessTokenIsJWT(t *testing.T) {
	s := NewOAuthServer(OAuthServerConfig{})
	defer s.Close()

	tok := s.IssueToken("client", "read write")
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tok.AccessToken, claims, func(*jwt.Token) (any, error) {
		return DefaultSigningKey, nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "client", claims["client_id"])
	assert.Equal(t, "read write", claims["scope"])
}

func TestOAuthServer_Metadata(t *testing.T) {
	s := NewOAuthServer(OAuthServerConfig{})
	defer s.Close()

	md, err := oauth.NewClient().DiscoverMetadata(t.Context(), s.URL())
	require.NoError(t, err)
	assert.Equal(t, s.TokenURL(), md.TokenEndpoint)
	assert.True(t, md.SupportsPKCE())
}

func TestProtectedResource(t *testing.T) {
	s := NewOAuthServer(OAuthServerConfig{})
	defer s.Close()
	api := NewProtectedResource(s)
	defer api.Close()

	resp, err := http.Get(api.URL() + "data")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, strings.Contains(resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`))

	tok := s.IssueToken("client", "")
	req, _ := http.NewRequest(http.MethodPost, api.URL()+"data", strings.NewReader("payload"))
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"", "Bearer " + tok.AccessToken}, api.AuthorizationHeaders())
	assert.Equal(t, []string{"", "payload"}, api.Bodies())
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearerToken("bearer abc"))
	assert.Equal(t, "", ExtractBearerToken("Basic abc"))
	assert.Equal(t, "", ExtractBearerToken(""))
}
