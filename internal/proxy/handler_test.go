package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenrelay/internal/refresh"
	"tokenrelay/internal/store"
	"tokenrelay/internal/testing/mock"
	"tokenrelay/pkg/oauth"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestHandler_RejectsConnect(t *testing.T) {
	h := NewHandler(roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("transport must not be called")
		return nil, nil
	}))

	req := httptest.NewRequest(http.MethodConnect, "http://api.example.com:443", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Allow"))
}

func TestHandler_RejectsNonAbsoluteURL(t *testing.T) {
	h := NewHandler(roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("transport must not be called")
		return nil, nil
	}))

	for _, target := range []string{"/relative", "ftp://files.example.com/x"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandler_StripsHopHeaders(t *testing.T) {
	var forwarded *http.Request
	h := NewHandler(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		forwarded = req
		header := http.Header{}
		header.Set("Connection", "X-Upstream-Hop")
		header.Set("X-Upstream-Hop", "1")
		header.Set("Keep-Alive", "timeout=5")
		header.Set("X-Kept", "yes")
		return &http.Response{
			StatusCode: http.StatusCreated,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader("created")),
		}, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "http://api.example.com/items", strings.NewReader("item"))
	req.Header.Set("Connection", "X-Hop")
	req.Header.Set("X-Hop", "1")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("X-Custom", "value")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, forwarded)
	assert.Empty(t, forwarded.RequestURI)
	assert.Empty(t, forwarded.Header.Get("Connection"))
	assert.Empty(t, forwarded.Header.Get("X-Hop"))
	assert.Empty(t, forwarded.Header.Get("Proxy-Authorization"))
	assert.Equal(t, "value", forwarded.Header.Get("X-Custom"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Kept"))
	assert.Empty(t, rec.Header().Get("X-Upstream-Hop"))
	assert.Empty(t, rec.Header().Get("Keep-Alive"))
}

func TestHandler_UpstreamErrorIsBadGateway(t *testing.T) {
	h := NewHandler(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://api.example.com/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandler_InjectsToken(t *testing.T) {
	authServer := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "client"})
	defer authServer.Close()
	api := mock.NewProtectedResource(authServer)
	defer api.Close()

	ctx := context.Background()
	creds, err := store.NewCredentialStore(ctx, store.NewMemoryStore())
	require.NoError(t, err)
	cfg := &oauth.ResourceConfig{ResourceServer: api.URL(), TokenEndpoint: authServer.TokenURL(), ClientID: "client"}
	require.NoError(t, creds.PutResourceConfig(ctx, cfg))
	issued := authServer.IssueToken("client", "read")
	require.NoError(t, creds.PutTokenRecord(ctx, cfg.ResourceServer, &oauth.TokenRecord{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
	}))

	proxyServer := httptest.NewServer(NewHandler(NewTransport(creds, refresh.NewCoordinator(creds, oauth.NewClient()))))
	defer proxyServer.Close()

	client := &http.Client{Transport: &http.Transport{Proxy: func(*http.Request) (*url.URL, error) {
		return url.Parse(proxyServer.URL)
	}}}
	resp, err := client.Get(api.URL() + "data")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, []string{"Bearer " + issued.AccessToken}, api.AuthorizationHeaders())
}
