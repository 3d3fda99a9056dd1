package mock

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// ProtectedResource is a resource server that accepts only tokens the
// given OAuthServer issued and that have not expired.
type ProtectedResource struct {
	oauth  *OAuthServer
	server *httptest.Server

	mu          sync.Mutex
	authHeaders []string
	bodies      []string
}

// NewProtectedResource starts a protected resource. Call Close when done.
func NewProtectedResource(oauth *OAuthServer) *ProtectedResource {
	p := &ProtectedResource{oauth: oauth}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

// URL returns the base URL, ending in "/".
func (p *ProtectedResource) URL() string {
	return p.server.URL + "/"
}

// Close shuts the server down.
func (p *ProtectedResource) Close() {
	p.server.Close()
}

// AuthorizationHeaders returns the Authorization header of every request received, in order.
func (p *ProtectedResource) AuthorizationHeaders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.authHeaders...)
}

// Bodies returns the body of every request received, in order.
func (p *ProtectedResource) Bodies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.bodies...)
}

func (p *ProtectedResource) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	auth := r.Header.Get("Authorization")

	p.mu.Lock()
	p.authHeaders = append(p.authHeaders, auth)
	p.bodies = append(p.bodies, string(body))
	p.mu.Unlock()

	if !p.oauth.ValidateToken(ExtractBearerToken(auth)) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mock", error="invalid_token", error_description="token missing, unknown or expired"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"path": r.URL.Path,
		"body": string(body),
	})
}
