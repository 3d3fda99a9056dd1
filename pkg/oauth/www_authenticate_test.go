package oauth

import (
	"net/http"
	"testing"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    *AuthChallenge
		wantErr bool
	}{
		{
			name:   "simple bearer",
			header: "Bearer",
			want: &AuthChallenge{
				Scheme: "Bearer",
			},
		},
		{
			name:   "bearer with realm and scope",
			header: `Bearer realm="api", scope="read write"`,
			want: &AuthChallenge{
				Scheme: "Bearer",
				Realm:  "api",
				Scope:  "read write",
			},
		},
		{
			name:   "bearer with error",
			header: `Bearer error="invalid_token", error_description="The token has expired"`,
			want: &AuthChallenge{
				Scheme:           "Bearer",
				Error:            "invalid_token",
				ErrorDescription: "The token has expired",
			},
		},
		{
			name:   "parameter names are case-insensitive",
			header: `Bearer ERROR="invalid_token"`,
			want: &AuthChallenge{
				Scheme: "Bearer",
				Error:  "invalid_token",
			},
		},
		{
			name:    "empty header",
			header:  "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWWWAuthenticate(tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseWWWAuthenticate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			if *got != *tt.want {
				t.Errorf("ParseWWWAuthenticate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseWWWAuthenticateFromResponse(t *testing.T) {
	tests := []struct {
		name        string
		resp        *http.Response
		wantNil     bool
		wantInvalid bool
	}{
		{
			name:    "nil response",
			resp:    nil,
			wantNil: true,
		},
		{
			name: "200 OK",
			resp: &http.Response{
				StatusCode: 200,
				Header:     http.Header{"Www-Authenticate": []string{`Bearer error="invalid_token"`}},
			},
			wantNil: true,
		},
		{
			name: "401 without header",
			resp: &http.Response{
				StatusCode: 401,
				Header:     http.Header{},
			},
			wantNil: true,
		},
		{
			name: "401 with invalid_token",
			resp: &http.Response{
				StatusCode: 401,
				Header:     http.Header{"Www-Authenticate": []string{`Bearer realm="api", error="invalid_token"`}},
			},
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseWWWAuthenticateFromResponse(tt.resp)
			if tt.wantNil {
				if got != nil {
					t.Errorf("ParseWWWAuthenticateFromResponse() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("ParseWWWAuthenticateFromResponse() = nil, want non-nil")
			}
			if got.IsInvalidToken() != tt.wantInvalid {
				t.Errorf("IsInvalidToken() = %v, want %v", got.IsInvalidToken(), tt.wantInvalid)
			}
		})
	}
}
