package oauth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenRecord_IsExpired(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		record *TokenRecord
		now    time.Time
		want   bool
	}{
		{
			name:   "fresh token",
			record: &TokenRecord{AccessToken: "a", ExpiresIn: 3600, IssuedAt: t0.Unix()},
			now:    t0.Add(10 * time.Minute),
			want:   false,
		},
		{
			name:   "exactly at lifetime is still valid",
			record: &TokenRecord{AccessToken: "a", ExpiresIn: 3600, IssuedAt: t0.Unix()},
			now:    t0.Add(3600 * time.Second),
			want:   false,
		},
		{
			name:   "one second past lifetime",
			record: &TokenRecord{AccessToken: "a", ExpiresIn: 3600, IssuedAt: t0.Unix()},
			now:    t0.Add(3601 * time.Second),
			want:   true,
		},
		{
			name:   "no lifetime reported",
			record: &TokenRecord{AccessToken: "a", IssuedAt: t0.Unix()},
			now:    t0.Add(1000 * time.Hour),
			want:   false,
		},
		{
			name:   "nil record",
			record: nil,
			now:    t0,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.IsExpired(tt.now))
		})
	}
}

func TestTokenRecord_IsEmpty(t *testing.T) {
	var nilRecord *TokenRecord
	assert.True(t, nilRecord.IsEmpty())
	assert.True(t, (&TokenRecord{RefreshToken: "r"}).IsEmpty())
	assert.False(t, (&TokenRecord{AccessToken: "a"}).IsEmpty())
}

func TestTokenRecord_AuthorizationHeader(t *testing.T) {
	assert.Equal(t, "Bearer abc", (&TokenRecord{AccessToken: "abc"}).AuthorizationHeader())
	assert.Equal(t, "DPoP abc", (&TokenRecord{AccessToken: "abc", TokenType: "DPoP"}).AuthorizationHeader())
}

func TestNewTokenRecord_KeepsPreviousRefreshToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	rec := NewTokenRecord(&TokenResponse{AccessToken: "A", ExpiresIn: 60}, "old-refresh", now)
	assert.Equal(t, "old-refresh", rec.RefreshToken)
	assert.Equal(t, now.Unix(), rec.IssuedAt)
	assert.Equal(t, "Bearer", rec.TokenType)

	rotated := NewTokenRecord(&TokenResponse{AccessToken: "A", RefreshToken: "new-refresh", TokenType: "DPoP"}, "old-refresh", now)
	assert.Equal(t, "new-refresh", rotated.RefreshToken)
	assert.Equal(t, "DPoP", rotated.TokenType)
}

func TestTokenRecord_ToOAuth2Token(t *testing.T) {
	rec := &TokenRecord{AccessToken: "A", RefreshToken: "R", ExpiresIn: 60, IssuedAt: 1000}
	tok := rec.ToOAuth2Token()

	assert.Equal(t, "A", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, "R", tok.RefreshToken)
	assert.Equal(t, time.Unix(1060, 0), tok.Expiry)
}

func TestResourceConfig_Matches(t *testing.T) {
	cfg := ResourceConfig{ResourceServer: "https://api.example.com/v1"}

	assert.True(t, cfg.Matches("https://api.example.com/v1/items"))
	assert.False(t, cfg.Matches("https://api.example.com/v2/items"))
	assert.False(t, (&ResourceConfig{}).Matches("https://api.example.com"))
}

func TestMetadata_SupportsPKCE(t *testing.T) {
	assert.True(t, (&Metadata{}).SupportsPKCE())
	assert.True(t, (&Metadata{CodeChallengeMethodsSupported: []string{"plain", "S256"}}).SupportsPKCE())
	assert.False(t, (&Metadata{CodeChallengeMethodsSupported: []string{"plain"}}).SupportsPKCE())
}

func TestErrorKinds(t *testing.T) {
	refreshErr := &RefreshError{ResourceServer: "https://api", Err: &TokenEndpointError{StatusCode: 500}}
	assert.ErrorIs(t, refreshErr, ErrRefreshFailed)
	assert.NotErrorIs(t, refreshErr, ErrReauthorizationRequired)

	reauth := &RefreshError{ResourceServer: "https://api", Reauthorize: true}
	assert.ErrorIs(t, reauth, ErrRefreshFailed)
	assert.ErrorIs(t, reauth, ErrReauthorizationRequired)

	storageErr := &StorageError{Op: "put", Collection: "token_store", Err: errors.New("disk full")}
	clearErr := &ClearError{ResourceServer: "https://api", Err: storageErr}
	assert.ErrorIs(t, clearErr, ErrClearFailed)
	assert.ErrorIs(t, clearErr, ErrStorageUnavailable)

	wrapped := fmt.Errorf("callback: %w", &AuthorizationError{Code: "access_denied"})
	assert.ErrorIs(t, wrapped, ErrAuthorization)

	var endpointErr *TokenEndpointError
	assert.ErrorAs(t, refreshErr, &endpointErr)
	assert.Equal(t, 500, endpointErr.StatusCode)
}
