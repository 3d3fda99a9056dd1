// Package proxy attaches bearer tokens to outgoing requests.
//
// Transport is an http.RoundTripper middleware. For every request it looks
// up the resource config whose resource server is the longest prefix of the
// request URL and then:
//
//   - forwards unmatched requests untouched (the same *http.Request value),
//   - refreshes a missing or expired token before sending,
//   - attaches "Authorization: <token_type> <access_token>" unless the
//     caller already set an Authorization header,
//   - on a 401 to a request it authorized, refreshes once and retries once.
//
// POST requests to a configured token endpoint are recognized as well: the
// returned tokens are stored for the matching resource server and removed
// from the response body before the caller sees it.
//
// Failures on this path never fail the request. When a token cannot be
// obtained the request is forwarded without modification and the condition
// is reported through events, logs and metrics.
//
// Handler exposes a Transport as a plain-HTTP forward proxy for clients that
// are not written in Go.
package proxy
