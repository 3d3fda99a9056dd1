// Package refresh serializes refresh grants per resource server.
//
// Concurrent callers asking for a refresh of the same resource server share
// a single token endpoint request and all receive its outcome. The new
// token record is persisted before any caller is released.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"tokenrelay/internal/events"
	"tokenrelay/internal/metrics"
	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// Clock is the time source used to stamp issued_at.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TokenClient performs the refresh grant against a token endpoint.
// *oauth.Client implements it.
type TokenClient interface {
	RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID string) (*oauth.TokenResponse, error)
}

// Coordinator refreshes token records, at most one refresh per resource
// server at a time.
type Coordinator struct {
	creds   *store.CredentialStore
	client  TokenClient
	bus     *events.Bus
	metrics *metrics.Metrics
	clock   Clock

	group singleflight.Group
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithEvents publishes lifecycle notifications on bus.
func WithEvents(bus *events.Bus) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

// WithMetrics records refresh metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a coordinator reading and writing records in creds.
func NewCoordinator(creds *store.CredentialStore, client TokenClient, opts ...Option) *Coordinator {
	c := &Coordinator{
		creds:  creds,
		client: client,
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the coordinator's current time.
func (c *Coordinator) Now() time.Time {
	return c.clock.Now()
}

// Refresh obtains a new access token for cfg using the stored refresh token.
// stale is the access token the caller found unusable (missing, expired or
// rejected); pass "" when there was none.
//
// Callers arriving while a refresh for the same resource server is in flight
// wait for it instead of starting another one. A caller arriving after a
// refresh already replaced stale gets the stored record without another
// token endpoint request. The flight is detached from the caller's context:
// a caller that gives up stops waiting, but the refresh still completes and
// is persisted.
func (c *Coordinator) Refresh(ctx context.Context, cfg *oauth.ResourceConfig, stale string) (*oauth.TokenRecord, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(cfg.ResourceServer, func() (any, error) {
		return c.doRefresh(detached, cfg, stale)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.ObserveCoalesced()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		rec := *res.Val.(*oauth.TokenRecord)
		return &rec, nil
	case <-ctx.Done():
		return nil, &oauth.RefreshError{ResourceServer: cfg.ResourceServer, Err: ctx.Err()}
	}
}

func (c *Coordinator) doRefresh(ctx context.Context, cfg *oauth.ResourceConfig, stale string) (*oauth.TokenRecord, error) {
	rs := cfg.ResourceServer

	current, err := c.creds.TokenRecord(ctx, rs)
	if err != nil {
		return nil, c.fail(rs, false, err)
	}
	if !current.IsEmpty() && current.AccessToken != stale && !current.IsExpired(c.clock.Now()) {
		logging.Debug("Refresh", "Access token for %s was already replaced, skipping refresh", rs)
		c.metrics.ObserveCoalesced()
		return current, nil
	}
	if current == nil || current.RefreshToken == "" {
		return nil, c.fail(rs, true, errors.New("no refresh token stored"))
	}

	c.bus.Emit(events.TypeRefreshingToken, rs, nil)
	logging.Debug("Refresh", "Refreshing access token for %s", rs)

	start := time.Now()
	resp, err := c.client.RefreshToken(ctx, cfg.TokenEndpoint, current.RefreshToken, cfg.ClientID)
	elapsed := time.Since(start)
	if err != nil {
		var endpointErr *oauth.TokenEndpointError
		reauthorize := errors.As(err, &endpointErr) && endpointErr.IsInvalidGrant()
		c.observe(reauthorize, elapsed)
		return nil, c.fail(rs, reauthorize, err)
	}
	if resp.AccessToken == "" {
		c.observe(false, elapsed)
		return nil, c.fail(rs, false, errors.New("token endpoint returned no access_token"))
	}

	rec := oauth.NewTokenRecord(resp, current.RefreshToken, c.clock.Now())
	if err := c.creds.SwapTokenRecord(ctx, rs, current.RefreshToken, rec); err != nil {
		c.observe(false, elapsed)
		if errors.Is(err, store.ErrTokenRecordChanged) {
			return nil, c.fail(rs, false, fmt.Errorf("discarding refreshed token: %w", err))
		}
		return nil, c.fail(rs, false, err)
	}

	c.metrics.ObserveRefresh(metrics.ResultSuccess, elapsed)
	c.bus.Emit(events.TypeAccessTokenStored, rs, nil)
	logging.Info("Refresh", "Refreshed access token for %s (expires in %ds)", rs, rec.ExpiresIn)
	return rec, nil
}

func (c *Coordinator) observe(reauthorize bool, elapsed time.Duration) {
	if reauthorize {
		c.metrics.ObserveRefresh(metrics.ResultReauthorization, elapsed)
		return
	}
	c.metrics.ObserveRefresh(metrics.ResultFailure, elapsed)
}

// fail emits the failure notifications and builds the returned error.
func (c *Coordinator) fail(rs string, reauthorize bool, cause error) error {
	err := &oauth.RefreshError{ResourceServer: rs, Reauthorize: reauthorize, Err: cause}
	c.bus.Emit(events.TypeRefreshTokenError, rs, err)
	if reauthorize {
		c.bus.Emit(events.TypeReauthorizationRequired, rs, cause)
		logging.Audit(logging.AuditEvent{
			Action:  "reauthorization_required",
			Outcome: "failure",
			Target:  rs,
			Detail:  cause.Error(),
		})
	}
	logging.Warn("Refresh", "Refreshing access token for %s failed: %v", rs, cause)
	return err
}

// Clear removes the token record of a resource server.
func (c *Coordinator) Clear(ctx context.Context, resourceServer string) error {
	return c.clear(resourceServer, c.creds.ClearTokenRecord(ctx, resourceServer))
}

// Forget removes the token record and every config registered for a resource server.
func (c *Coordinator) Forget(ctx context.Context, resourceServer string) error {
	return c.clear(resourceServer, c.creds.ClearResource(ctx, resourceServer))
}

func (c *Coordinator) clear(resourceServer string, err error) error {
	if err != nil {
		clearErr := &oauth.ClearError{ResourceServer: resourceServer, Err: err}
		c.bus.Emit(events.TypeClearTokenError, resourceServer, clearErr)
		logging.Error("Refresh", err, "Clearing tokens for %s failed", resourceServer)
		return clearErr
	}
	c.bus.Emit(events.TypeAccessTokenCleared, resourceServer, nil)
	return nil
}
