package proxy

import (
	"io"
	"net/http"
	"strings"

	"tokenrelay/pkg/logging"
)

// hopHeaders are connection-specific and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler is a forward proxy for absolute-form http:// and https:// requests.
// CONNECT is refused: a tunneled TLS stream cannot carry an injected header.
type Handler struct {
	transport http.RoundTripper
}

// NewHandler creates a forward proxy sending every request through transport.
func NewHandler(transport http.RoundTripper) *Handler {
	return &Handler{transport: transport}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		w.Header().Set("Allow", "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS")
		http.Error(w, "CONNECT is not supported: send plain absolute-form requests", http.StatusMethodNotAllowed)
		return
	}
	if !r.URL.IsAbs() || (r.URL.Scheme != "http" && r.URL.Scheme != "https") {
		http.Error(w, "proxy requests must use an absolute http(s) URL", http.StatusBadRequest)
		return
	}

	out := r.Clone(r.Context())
	out.RequestURI = ""
	if r.ContentLength == 0 {
		out.Body = nil
	}
	removeHopHeaders(out.Header)

	resp, err := h.transport.RoundTrip(out)
	if err != nil {
		logging.Warn("Proxy", "Upstream request %s %s failed: %v", r.Method, r.URL.Redacted(), err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	removeHopHeaders(resp.Header)
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(flushWriter{w}, resp.Body); err != nil {
		logging.Debug("Proxy", "Copying response from %s interrupted: %v", r.URL.Redacted(), err)
	}
}

func removeHopHeaders(h http.Header) {
	for _, field := range h.Values("Connection") {
		for _, name := range strings.Split(field, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// flushWriter flushes after every write so streamed responses are not held back.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
