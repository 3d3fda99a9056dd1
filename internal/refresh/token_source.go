package refresh

import (
	"context"

	"golang.org/x/oauth2"

	"tokenrelay/pkg/oauth"
)

// TokenSource returns an oauth2.TokenSource that serves the stored token of
// cfg's resource server and refreshes it through the coordinator when it is
// missing or expired. It can back an oauth2.Transport.
func (c *Coordinator) TokenSource(ctx context.Context, cfg *oauth.ResourceConfig) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c, cfg: cfg}
}

type tokenSource struct {
	ctx context.Context
	c   *Coordinator
	cfg *oauth.ResourceConfig
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	rec, err := ts.c.creds.TokenRecord(ts.ctx, ts.cfg.ResourceServer)
	if err != nil {
		return nil, err
	}
	if rec.IsEmpty() || rec.IsExpired(ts.c.Now()) {
		var stale string
		if rec != nil {
			stale = rec.AccessToken
		}
		rec, err = ts.c.Refresh(ts.ctx, ts.cfg, stale)
		if err != nil {
			return nil, err
		}
	}
	return rec.ToOAuth2Token(), nil
}
