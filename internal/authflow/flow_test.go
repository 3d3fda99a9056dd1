package authflow

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenrelay/internal/events"
	"tokenrelay/internal/proxy"
	"tokenrelay/internal/refresh"
	"tokenrelay/internal/store"
	"tokenrelay/internal/testing/mock"
	"tokenrelay/pkg/oauth"
)

const (
	testClientID    = "tokenrelay-cli"
	testRedirectURI = "http://localhost:8765/callback"
	testResource    = "https://api.example.com/"
)

type flowFixture struct {
	server *mock.OAuthServer
	creds  *store.CredentialStore
	flow   *Flow
	events <-chan events.Event
	cfg    *oauth.ResourceConfig
}

func newFlowFixture(t *testing.T, transport func(*store.CredentialStore) http.RoundTripper, opts ...Option) *flowFixture {
	t.Helper()

	server := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: testClientID, PKCERequired: true})
	t.Cleanup(server.Close)

	creds, err := store.NewCredentialStore(context.Background(), store.NewMemoryStore())
	require.NoError(t, err)

	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(32)
	t.Cleanup(unsubscribe)

	flow := New(creds, transport(creds), append([]Option{WithEvents(bus)}, opts...)...)
	t.Cleanup(flow.Close)

	return &flowFixture{
		server: server,
		creds:  creds,
		flow:   flow,
		events: ch,
		cfg: &oauth.ResourceConfig{
			ResourceServer:        testResource,
			TokenEndpoint:         server.TokenURL(),
			AuthorizationEndpoint: server.AuthorizeURL(),
			ClientID:              testClientID,
			RedirectURI:           testRedirectURI,
			Scopes:                []string{"read", "write"},
		},
	}
}

func proxyTransport(creds *store.CredentialStore) http.RoundTripper {
	return proxy.NewTransport(creds, refresh.NewCoordinator(creds, oauth.NewClient()))
}

// authorize plays the authorization server's part: it issues a code for the
// challenge in authURL and returns the redirect query.
func (f *flowFixture) authorize(t *testing.T, authURL string) url.Values {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	code := f.server.GenerateAuthCode(q.Get("client_id"), q.Get("redirect_uri"), q.Get("scope"),
		q.Get("code_challenge"), q.Get("code_challenge_method"))
	return url.Values{"code": {code}, "state": {q.Get("state")}}
}

func TestFlow_Start(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, 1, f.flow.Pending())

	stored, err := f.creds.ResourceConfig(ctx, f.cfg.TokenEndpoint)
	require.NoError(t, err)
	assert.Equal(t, testResource, stored.ResourceServer)

	select {
	case e := <-f.events:
		assert.Equal(t, events.TypeConfigStored, e.Type)
		assert.Equal(t, testResource, e.ResourceServer)
	default:
		t.Fatal("expected a configStored event")
	}
}

func TestFlow_StartStatesAreUnique(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)

	seen := map[string]bool{}
	for range 20 {
		authURL, err := f.flow.Start(context.Background(), f.cfg)
		require.NoError(t, err)
		u, _ := url.Parse(authURL)
		state := u.Query().Get("state")
		assert.False(t, seen[state], "duplicate state %s", state)
		seen[state] = true
	}
	assert.Equal(t, 20, f.flow.Pending())
}

func TestFlow_StartValidation(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)

	_, err := f.flow.Start(context.Background(), nil)
	assert.Error(t, err)

	missing := *f.cfg
	missing.RedirectURI = ""
	_, err = f.flow.Start(context.Background(), &missing)
	assert.ErrorContains(t, err, "redirect_uri")
	assert.Equal(t, 0, f.flow.Pending())
}

func TestFlow_HandleCallback(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)

	result, err := f.flow.HandleCallback(ctx, f.authorize(t, authURL))
	require.NoError(t, err)

	assert.Equal(t, testResource, result.ResourceServer)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.Equal(t, "read write", result.Scope)
	assert.Equal(t, int64(3600), result.ExpiresIn)
	assert.Equal(t, 1, f.server.TokenRequests())
	assert.Equal(t, 0, f.flow.Pending())

	form := f.server.LastForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, testClientID, form.Get("client_id"))
	assert.Equal(t, testRedirectURI, form.Get("redirect_uri"))
	assert.NotEmpty(t, form.Get("code_verifier"))

	rec, err := f.creds.TokenRecord(ctx, testResource)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, f.server.ValidateToken(rec.AccessToken))
	assert.NotEmpty(t, rec.RefreshToken)
}

func TestFlow_HandleCallbackWithoutInterception(t *testing.T) {
	f := newFlowFixture(t, func(*store.CredentialStore) http.RoundTripper { return http.DefaultTransport })
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)

	_, err = f.flow.HandleCallback(ctx, f.authorize(t, authURL))
	require.NoError(t, err)

	rec, err := f.creds.TokenRecord(ctx, testResource)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, f.server.ValidateToken(rec.AccessToken))
}

// A callback whose state does not match a pending attempt never reaches the token endpoint.
func TestFlow_HandleCallbackStateMismatch(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)
	ctx := context.Background()

	_, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)

	_, err = f.flow.HandleCallback(ctx, url.Values{"code": {"some-code"}, "state": {"abc"}})

	var authErr *oauth.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "state_mismatch", authErr.Code)
	assert.ErrorIs(t, err, oauth.ErrAuthorization)
	assert.Equal(t, 0, f.server.TokenRequests())
	assert.Equal(t, 1, f.flow.Pending(), "the pending attempt is untouched")
}

func TestFlow_HandleCallbackErrorParam(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)
	u, _ := url.Parse(authURL)

	_, err = f.flow.HandleCallback(ctx, url.Values{
		"error":             {"access_denied"},
		"error_description": {"user declined"},
		"state":             {u.Query().Get("state")},
	})

	var authErr *oauth.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "access_denied", authErr.Code)
	assert.Equal(t, "user declined", authErr.Description)
	assert.Equal(t, 0, f.server.TokenRequests())
	assert.Equal(t, 0, f.flow.Pending())
}

func TestFlow_HandleCallbackMissingCode(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)
	u, _ := url.Parse(authURL)

	_, err = f.flow.HandleCallback(ctx, url.Values{"state": {u.Query().Get("state")}})
	assert.ErrorIs(t, err, oauth.ErrAuthorization)
	assert.Equal(t, 0, f.server.TokenRequests())
}

func TestFlow_StateIsSingleUse(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)
	query := f.authorize(t, authURL)

	_, err = f.flow.HandleCallback(ctx, query)
	require.NoError(t, err)

	_, err = f.flow.HandleCallback(ctx, query)
	assert.ErrorIs(t, err, oauth.ErrAuthorization)
	assert.Equal(t, 1, f.server.TokenRequests())
}

func TestFlow_ExpiredSession(t *testing.T) {
	f := newFlowFixture(t, proxyTransport, WithSessionTTL(20*time.Millisecond))
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)
	query := f.authorize(t, authURL)

	time.Sleep(60 * time.Millisecond)

	_, err = f.flow.HandleCallback(ctx, query)
	var authErr *oauth.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "state_mismatch", authErr.Code)
	assert.Equal(t, 0, f.server.TokenRequests())
}

func TestFlow_TokenEndpointRejectsCode(t *testing.T) {
	f := newFlowFixture(t, proxyTransport)
	ctx := context.Background()

	authURL, err := f.flow.Start(ctx, f.cfg)
	require.NoError(t, err)
	query := f.authorize(t, authURL)
	f.server.SetSimulateErrors(&mock.OAuthErrorSimulation{InvalidGrant: true})

	_, err = f.flow.HandleCallback(ctx, query)

	var endpointErr *oauth.TokenEndpointError
	require.True(t, errors.As(err, &endpointErr))
	assert.True(t, endpointErr.IsInvalidGrant())

	rec, err := f.creds.TokenRecord(ctx, testResource)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
