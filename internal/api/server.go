package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenrelay/internal/events"
	"tokenrelay/internal/refresh"
	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// eventBuffer is the per-client buffer of the event stream.
const eventBuffer = 64

// Server holds the dependencies of the admin handlers.
type Server struct {
	creds       *store.CredentialStore
	coordinator *refresh.Coordinator
	bus         *events.Bus
	gatherer    prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithEvents enables the event stream and configStored notifications.
func WithEvents(bus *events.Bus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates the admin API.
func NewServer(creds *store.CredentialStore, coordinator *refresh.Coordinator, opts ...Option) *Server {
	s := &Server{
		creds:       creds,
		coordinator: coordinator,
		gatherer:    prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine serving the API.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	v1.POST("/resources", s.handleRegister)
	v1.GET("/resources", s.handleListResources)
	v1.DELETE("/resources", s.handleDeleteResource)
	v1.DELETE("/tokens", s.handleClearTokens)
	v1.GET("/events", s.handleEvents)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("API", "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if _, err := s.creds.ResourceConfigs(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, SimpleResp{Status: statusError, Msg: "credential store unavailable"})
		return
	}
	c.JSON(http.StatusOK, SimpleResp{Status: statusOK})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, SimpleResp{Status: statusError, Msg: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	for field, value := range map[string]string{
		"resource_server": req.ResourceServer,
		"token_endpoint":  req.TokenEndpoint,
	} {
		if !isAbsoluteHTTPURL(value) {
			c.JSON(http.StatusBadRequest, SimpleResp{Status: statusError, Msg: field + " must be an absolute http(s) URL"})
			return
		}
	}

	cfg := req.config()
	if err := s.creds.PutResourceConfig(c.Request.Context(), cfg); err != nil {
		writeStoreError(c, err)
		return
	}
	s.bus.Emit(events.TypeConfigStored, cfg.ResourceServer, nil)
	logging.Info("API", "Registered resource %s", cfg.ResourceServer)

	c.JSON(http.StatusCreated, newResourceStatus(cfg, nil, s.coordinator.Now()))
}

func (s *Server) handleListResources(c *gin.Context) {
	ctx := c.Request.Context()
	configs, err := s.creds.ResourceConfigs(ctx)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	now := s.coordinator.Now()
	statuses := make([]ResourceStatus, 0, len(configs))
	for _, cfg := range configs {
		rec, err := s.creds.TokenRecord(ctx, cfg.ResourceServer)
		if err != nil {
			writeStoreError(c, err)
			return
		}
		statuses = append(statuses, newResourceStatus(cfg, rec, now))
	}
	c.JSON(http.StatusOK, statuses)
}

func (s *Server) handleDeleteResource(c *gin.Context) {
	rs, ok := resourceServerParam(c)
	if !ok {
		return
	}
	if err := s.coordinator.Forget(c.Request.Context(), rs); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, SimpleResp{Status: statusOK})
}

func (s *Server) handleClearTokens(c *gin.Context) {
	rs, ok := resourceServerParam(c)
	if !ok {
		return
	}
	if err := s.coordinator.Clear(c.Request.Context(), rs); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, SimpleResp{Status: statusOK})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusNotFound, SimpleResp{Status: statusError, Msg: "event stream disabled"})
		return
	}

	ch, unsubscribe := s.bus.Subscribe(eventBuffer)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	// Send headers now so clients see the stream before the first event.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func resourceServerParam(c *gin.Context) (string, bool) {
	rs := c.Query("resource_server")
	if rs == "" {
		c.JSON(http.StatusBadRequest, SimpleResp{Status: statusError, Msg: "resource_server query parameter is required"})
		return "", false
	}
	return rs, true
}

func writeStoreError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, oauth.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
	}
	logging.Error("API", err, "%s %s failed", c.Request.Method, c.Request.URL.Path)
	c.JSON(status, SimpleResp{Status: statusError, Msg: err.Error()})
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
