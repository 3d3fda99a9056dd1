package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"tokenrelay/internal/events"
	"tokenrelay/internal/metrics"
	"tokenrelay/internal/refresh"
	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// attempt tracks where a request is in the 401 retry state machine.
type attempt int

const (
	firstAttempt attempt = iota
	retried
)

// strippedTokenFields are removed from token endpoint responses once stored.
var strippedTokenFields = []string{"access_token", "refresh_token", "expires_in"}

// Transport injects and refreshes bearer tokens. The zero value is not usable;
// create one with NewTransport.
type Transport struct {
	base        http.RoundTripper
	creds       *store.CredentialStore
	coordinator *refresh.Coordinator
	bus         *events.Bus
	metrics     *metrics.Metrics
}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the transport requests are forwarded to. Defaults to http.DefaultTransport.
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

// WithEvents publishes token endpoint seeding notifications on bus.
func WithEvents(bus *events.Bus) Option {
	return func(t *Transport) {
		t.bus = bus
	}
}

// WithMetrics counts request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// NewTransport creates a Transport using creds for lookups and coordinator for refreshes.
func NewTransport(creds *store.CredentialStore, coordinator *refresh.Coordinator, opts ...Option) *Transport {
	t := &Transport{
		base:        http.DefaultTransport,
		creds:       creds,
		coordinator: coordinator,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns an http.Client using t as its transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	rawURL := req.URL.String()

	if req.Method == http.MethodPost {
		cfg, err := t.creds.ResourceConfig(ctx, rawURL)
		switch {
		case err == nil:
			return t.roundTripTokenEndpoint(req, cfg)
		case !errors.Is(err, store.ErrNotFound):
			return t.forwardOnStorageError(req, err)
		}
	}

	cfg, err := t.creds.MatchResource(ctx, rawURL)
	if err != nil {
		return t.forwardOnStorageError(req, err)
	}
	if cfg == nil {
		t.metrics.ObserveProxyRequest(metrics.OutcomeUnmatched)
		return t.base.RoundTrip(req)
	}

	if req.Header.Get("Authorization") != "" {
		logging.Debug("Proxy", "Request to %s already carries an Authorization header, forwarding as is", cfg.ResourceServer)
		t.metrics.ObserveProxyRequest(metrics.OutcomePassthrough)
		return t.base.RoundTrip(req)
	}

	return t.roundTripResource(req, cfg)
}

func (t *Transport) forwardOnStorageError(req *http.Request, err error) (*http.Response, error) {
	logging.Warn("Proxy", "Credential store unavailable, forwarding %s %s without a token: %v", req.Method, req.URL.Redacted(), err)
	t.metrics.ObserveProxyRequest(metrics.OutcomeStorageFailed)
	return t.base.RoundTrip(req)
}

// currentToken returns a usable token, refreshing it when missing or expired.
func (t *Transport) currentToken(ctx context.Context, cfg *oauth.ResourceConfig) (*oauth.TokenRecord, error) {
	rec, err := t.creds.TokenRecord(ctx, cfg.ResourceServer)
	if err != nil {
		return nil, err
	}
	if rec.IsEmpty() {
		logging.Debug("Proxy", "No access token for %s, refreshing", cfg.ResourceServer)
		return t.coordinator.Refresh(ctx, cfg, "")
	}
	if rec.IsExpired(t.coordinator.Now()) {
		logging.Debug("Proxy", "Access token for %s expired, refreshing", cfg.ResourceServer)
		return t.coordinator.Refresh(ctx, cfg, rec.AccessToken)
	}
	return rec, nil
}

func (t *Transport) roundTripResource(req *http.Request, cfg *oauth.ResourceConfig) (*http.Response, error) {
	ctx := req.Context()

	rec, err := t.currentToken(ctx, cfg)
	if err != nil {
		if errors.Is(err, oauth.ErrStorageUnavailable) {
			return t.forwardOnStorageError(req, err)
		}
		logging.Debug("Proxy", "Forwarding request to %s without a token: %v", cfg.ResourceServer, err)
		t.metrics.ObserveProxyRequest(metrics.OutcomePassthrough)
		return t.base.RoundTrip(req)
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	state := firstAttempt
	for {
		out := req.Clone(ctx)
		out.Header.Set("Authorization", rec.AuthorizationHeader())
		if getBody != nil {
			if out.Body, err = getBody(); err != nil {
				return nil, err
			}
			out.GetBody = getBody
		}

		resp, err := t.base.RoundTrip(out)
		if err != nil || resp.StatusCode != http.StatusUnauthorized || state == retried {
			if err == nil {
				if state == retried {
					t.metrics.ObserveProxyRequest(metrics.OutcomeRetried)
				} else {
					t.metrics.ObserveProxyRequest(metrics.OutcomeAttached)
				}
			} else {
				t.metrics.ObserveProxyRequest(metrics.OutcomeError)
			}
			return resp, err
		}

		if challenge := oauth.ParseWWWAuthenticateFromResponse(resp); challenge.IsInvalidToken() {
			logging.Debug("Proxy", "Resource server %s rejected the token as invalid: %s", cfg.ResourceServer, challenge.ErrorDescription)
		}

		fresh, refreshErr := t.coordinator.Refresh(ctx, cfg, rec.AccessToken)
		if refreshErr != nil {
			logging.Debug("Proxy", "Refresh after 401 from %s failed, returning the 401: %v", cfg.ResourceServer, refreshErr)
			t.metrics.ObserveProxyRequest(metrics.OutcomeAttached)
			return resp, nil
		}

		drainAndClose(resp.Body)
		rec = fresh
		state = retried
	}
}

// replayableBody returns a function producing fresh copies of the request
// body, or nil when the request has none. A body without GetBody is read
// into memory and the original is closed.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		// The original body is not sent; release it.
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

// roundTripTokenEndpoint forwards a token request, stores the returned
// tokens for cfg's resource server and strips them from the body.
func (t *Transport) roundTripTokenEndpoint(req *http.Request, cfg *oauth.ResourceConfig) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}

	stripped, err := t.seedTokens(req.Context(), cfg, body)
	if err != nil {
		t.bus.Emit(events.TypeAccessTokenError, cfg.ResourceServer, err)
		logging.Warn("Proxy", "Storing tokens from %s failed, returning the response unmodified: %v", cfg.TokenEndpoint, err)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	t.bus.Emit(events.TypeAccessTokenStored, cfg.ResourceServer, nil)
	t.metrics.ObserveProxyRequest(metrics.OutcomeTokenSeeded)

	resp.Body = io.NopCloser(bytes.NewReader(stripped))
	resp.ContentLength = int64(len(stripped))
	resp.Header.Set("Content-Length", strconv.Itoa(len(stripped)))
	return resp, nil
}

// seedTokens persists the token record carried by body and returns body
// without the token fields.
func (t *Transport) seedTokens(ctx context.Context, cfg *oauth.ResourceConfig, body []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	tokenResp, err := oauth.ParseTokenResponse(body)
	if err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	var previousRefresh string
	if prior, err := t.creds.TokenRecord(ctx, cfg.ResourceServer); err == nil && prior != nil {
		previousRefresh = prior.RefreshToken
	}
	rec := oauth.NewTokenRecord(tokenResp, previousRefresh, t.coordinator.Now())
	if err := t.creds.PutTokenRecord(ctx, cfg.ResourceServer, rec); err != nil {
		return nil, err
	}

	for _, field := range strippedTokenFields {
		delete(doc, field)
	}
	return json.Marshal(doc)
}
