package authflow

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tokenrelay/pkg/logging"
)

// DefaultCallbackAddr listens on loopback with a random port.
const DefaultCallbackAddr = "127.0.0.1:0"

// CallbackTimeout is how long login waits for the browser redirect.
const CallbackTimeout = 10 * time.Minute

var (
	//go:embed templates/callback_success.html
	callbackSuccessHTML string

	//go:embed templates/callback_error.html
	callbackErrorHTML string

	successPage = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorPage   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// CallbackFunc completes an authorization from a redirect query.
type CallbackFunc func(ctx context.Context, query url.Values) (*Result, error)

type callbackOutcome struct {
	result *Result
	err    error
}

// CallbackServer is a temporary local HTTP server that accepts a single
// redirect callback, passes it to a CallbackFunc and shuts down.
type CallbackServer struct {
	addr     string
	handle   CallbackFunc
	server   *http.Server
	listener net.Listener
	baseURL  string

	outcome  chan callbackOutcome
	serveErr chan error
	once     sync.Once
	stopOnce sync.Once
}

// NewCallbackServer creates a server on addr (DefaultCallbackAddr when empty).
func NewCallbackServer(addr string, handle CallbackFunc) *CallbackServer {
	if addr == "" {
		addr = DefaultCallbackAddr
	}
	return &CallbackServer{
		addr:     addr,
		handle:   handle,
		outcome:  make(chan callbackOutcome, 1),
		serveErr: make(chan error, 1),
	}
}

// Start begins listening and returns the redirect URI to register with the
// authorization server. The server stops when ctx is cancelled.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.baseURL = fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.serveErr <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURI(), nil
}

// RedirectURI returns the callback URL. It is empty before Start.
func (s *CallbackServer) RedirectURI() string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/callback"
}

// Wait blocks until the callback was handled, the server failed or ctx is done.
func (s *CallbackServer) Wait(ctx context.Context) (*Result, error) {
	select {
	case o := <-s.outcome:
		return o.result, o.err
	case err := <-s.serveErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	result, err := s.handle(r.Context(), r.URL.Query())

	var renderErr error
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		renderErr = errorPage.Execute(w, map[string]string{"Error": err.Error()})
	} else {
		renderErr = successPage.Execute(w, result)
	}
	if renderErr != nil {
		logging.Warn("AuthFlow", "Rendering callback page failed: %v", renderErr)
	}

	s.outcome <- callbackOutcome{result: result, err: err}

	// Let the response reach the browser before shutting down.
	go func() {
		time.Sleep(time.Second)
		s.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
