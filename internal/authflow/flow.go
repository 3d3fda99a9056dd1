package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tokenrelay/internal/events"
	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// DefaultExchangeTimeout bounds the token exchange request.
const DefaultExchangeTimeout = 30 * time.Second

// Result describes a completed authorization. It never carries token material.
type Result struct {
	ResourceServer string
	TokenType      string
	Scope          string
	ExpiresIn      int64

	// Extra holds the non-token fields the token endpoint returned.
	Extra map[string]any
}

// Flow runs authorization attempts. It is safe for concurrent use.
type Flow struct {
	creds      *store.CredentialStore
	client     *oauth.Client
	bus        *events.Bus
	sessions   *sessionCache
	sessionTTL time.Duration
	now        func() time.Time
}

// Option configures a Flow.
type Option func(*Flow)

// WithEvents publishes configStored notifications on bus.
func WithEvents(bus *events.Bus) Option {
	return func(f *Flow) {
		f.bus = bus
	}
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(f *Flow) {
		f.sessionTTL = ttl
	}
}

// New creates a Flow. The code exchange is sent through transport, which is
// expected to be the token-injecting proxy transport so the response is
// persisted in creds.
func New(creds *store.CredentialStore, transport http.RoundTripper, opts ...Option) *Flow {
	f := &Flow{
		creds:      creds,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client = oauth.NewClient(
		oauth.WithHTTPClient(&http.Client{
			Transport: transport,
			Timeout:   DefaultExchangeTimeout,
		}),
		oauth.WithLogger(logging.Logger().With("subsystem", "AuthFlow")),
	)
	f.sessions = newSessionCache(f.sessionTTL)
	return f
}

// Close releases the session cache.
func (f *Flow) Close() {
	f.sessions.stop()
}

// Pending returns the number of authorization attempts awaiting a callback.
func (f *Flow) Pending() int {
	return f.sessions.len()
}

// Start registers cfg and returns the authorization URL for a new attempt.
func (f *Flow) Start(ctx context.Context, cfg *oauth.ResourceConfig) (string, error) {
	if err := validateStartConfig(cfg); err != nil {
		return "", err
	}

	if err := f.creds.PutResourceConfig(ctx, cfg); err != nil {
		return "", fmt.Errorf("failed to register resource %s: %w", cfg.ResourceServer, err)
	}
	f.bus.Emit(events.TypeConfigStored, cfg.ResourceServer, nil)

	state, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}
	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return "", err
	}

	authURL, err := f.client.BuildAuthorizationURL(cfg.AuthorizationEndpoint, cfg.ClientID, cfg.RedirectURI, state, cfg.Scopes, pkce)
	if err != nil {
		return "", err
	}

	f.sessions.put(state, &session{config: *cfg, pkce: pkce, createdAt: f.now()})
	logging.Debug("AuthFlow", "Started authorization for %s", cfg.ResourceServer)
	return authURL, nil
}

func validateStartConfig(cfg *oauth.ResourceConfig) error {
	if cfg == nil {
		return errors.New("resource config is required")
	}
	for field, value := range map[string]string{
		"resource_server":        cfg.ResourceServer,
		"token_endpoint":         cfg.TokenEndpoint,
		"authorization_endpoint": cfg.AuthorizationEndpoint,
		"redirect_uri":           cfg.RedirectURI,
	} {
		if value == "" {
			return fmt.Errorf("%s is required to start an authorization", field)
		}
	}
	return nil
}

// HandleCallback validates a redirect's query and exchanges its code.
// A callback carrying an error, or a state with no pending attempt, fails with
// an *oauth.AuthorizationError before any request is made.
func (f *Flow) HandleCallback(ctx context.Context, query url.Values) (*Result, error) {
	state := query.Get("state")

	if code := query.Get("error"); code != "" {
		sess := f.sessions.take(state)
		authErr := &oauth.AuthorizationError{Code: code, Description: query.Get("error_description")}
		f.auditFailure(sess, authErr)
		return nil, authErr
	}

	sess := f.sessions.take(state)
	if sess == nil {
		authErr := &oauth.AuthorizationError{Code: "state_mismatch", Description: "no pending authorization for this state"}
		f.auditFailure(nil, authErr)
		return nil, authErr
	}

	code := query.Get("code")
	if code == "" {
		authErr := &oauth.AuthorizationError{Code: "invalid_request", Description: "callback has no code"}
		f.auditFailure(sess, authErr)
		return nil, authErr
	}

	cfg := sess.config
	resp, err := f.client.ExchangeCode(ctx, cfg.TokenEndpoint, code, cfg.RedirectURI, cfg.ClientID, sess.pkce.CodeVerifier)
	if err != nil {
		logging.Audit(logging.AuditEvent{Action: "authorization_failed", Outcome: "failure", Target: cfg.ResourceServer, Detail: "code exchange failed"})
		return nil, fmt.Errorf("code exchange for %s failed: %w", cfg.ResourceServer, err)
	}

	// The transport stores and strips the tokens. An access token still present
	// here means it could not, so persist it directly.
	if resp.AccessToken != "" {
		rec := oauth.NewTokenRecord(resp, "", f.now())
		if err := f.creds.PutTokenRecord(ctx, cfg.ResourceServer, rec); err != nil {
			return nil, err
		}
	}

	rec, err := f.creds.TokenRecord(ctx, cfg.ResourceServer)
	if err != nil {
		return nil, err
	}
	if rec.IsEmpty() {
		return nil, fmt.Errorf("token endpoint for %s returned no access token", cfg.ResourceServer)
	}

	logging.Audit(logging.AuditEvent{Action: "authorization_completed", Outcome: "success", Target: cfg.ResourceServer})
	return &Result{
		ResourceServer: cfg.ResourceServer,
		TokenType:      rec.TokenType,
		Scope:          resp.Scope,
		ExpiresIn:      rec.ExpiresIn,
		Extra:          resp.Extra,
	}, nil
}

func (f *Flow) auditFailure(sess *session, err *oauth.AuthorizationError) {
	target := ""
	if sess != nil {
		target = sess.config.ResourceServer
	}
	logging.Audit(logging.AuditEvent{Action: "authorization_failed", Outcome: "failure", Target: target, Detail: err.Code})
}
