package api

import (
	"time"

	"tokenrelay/pkg/oauth"
)

// SimpleResp is the body of responses that carry no data.
type SimpleResp struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

const (
	statusOK    = "success"
	statusError = "error"
)

// RegisterRequest registers a resource server. The fields are stored verbatim.
type RegisterRequest struct {
	ResourceServer        string   `json:"resource_server" binding:"required"`
	TokenEndpoint         string   `json:"token_endpoint" binding:"required"`
	ClientID              string   `json:"client_id"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
	RedirectURI           string   `json:"redirect_uri,omitempty"`
	Scopes                []string `json:"scopes,omitempty"`
}

func (r RegisterRequest) config() *oauth.ResourceConfig {
	return &oauth.ResourceConfig{
		ResourceServer:        r.ResourceServer,
		TokenEndpoint:         r.TokenEndpoint,
		ClientID:              r.ClientID,
		AuthorizationEndpoint: r.AuthorizationEndpoint,
		RedirectURI:           r.RedirectURI,
		Scopes:                r.Scopes,
	}
}

// ResourceStatus describes a registration and the state of its token.
type ResourceStatus struct {
	ResourceServer        string     `json:"resource_server"`
	TokenEndpoint         string     `json:"token_endpoint"`
	ClientID              string     `json:"client_id,omitempty"`
	AuthorizationEndpoint string     `json:"authorization_endpoint,omitempty"`
	Scopes                []string   `json:"scopes,omitempty"`
	HasAccessToken        bool       `json:"has_access_token"`
	HasRefreshToken       bool       `json:"has_refresh_token"`
	Expired               bool       `json:"expired"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
}

func newResourceStatus(cfg *oauth.ResourceConfig, rec *oauth.TokenRecord, now time.Time) ResourceStatus {
	status := ResourceStatus{
		ResourceServer:        cfg.ResourceServer,
		TokenEndpoint:         cfg.TokenEndpoint,
		ClientID:              cfg.ClientID,
		AuthorizationEndpoint: cfg.AuthorizationEndpoint,
		Scopes:                cfg.Scopes,
	}
	if rec == nil {
		return status
	}
	status.HasAccessToken = !rec.IsEmpty()
	status.HasRefreshToken = rec.RefreshToken != ""
	status.Expired = rec.IsExpired(now)
	if exp := rec.ExpiresAt(); !exp.IsZero() {
		status.ExpiresAt = &exp
	}
	return status
}
