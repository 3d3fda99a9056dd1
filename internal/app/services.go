package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tokenrelay/internal/authflow"
	"tokenrelay/internal/config"
	"tokenrelay/internal/events"
	"tokenrelay/internal/metrics"
	"tokenrelay/internal/proxy"
	"tokenrelay/internal/refresh"
	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// Services holds the initialized components.
type Services struct {
	Store       store.Store
	Credentials *store.CredentialStore
	Events      *events.Bus
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Coordinator *refresh.Coordinator
	Transport   *proxy.Transport
	Flow        *authflow.Flow
}

// InitializeServices builds every component from cfg. Close the result when done.
func InitializeServices(ctx context.Context, cfg config.Config) (*Services, error) {
	kv, err := store.Open(ctx, cfg.Storage.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s credential store: %w", cfg.Storage.Backend, err)
	}

	creds, err := store.NewCredentialStore(ctx, kv)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	if err := config.RegisterResources(ctx, creds, cfg.Resources); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to register configured resources: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	bus := events.NewBus(events.WithDropHook(func(e events.Event) {
		m.ObserveEventDropped()
		logging.Debug("Events", "Dropped %s notification for a slow subscriber", e.Type)
	}))

	coordinator := refresh.NewCoordinator(creds, oauth.NewClient(oauth.WithLogger(logging.Logger().With("subsystem", "OAuth"))),
		refresh.WithEvents(bus),
		refresh.WithMetrics(m),
	)
	transport := proxy.NewTransport(creds, coordinator,
		proxy.WithEvents(bus),
		proxy.WithMetrics(m),
	)

	return &Services{
		Store:       kv,
		Credentials: creds,
		Events:      bus,
		Registry:    registry,
		Metrics:     m,
		Coordinator: coordinator,
		Transport:   transport,
		Flow:        authflow.New(creds, transport, authflow.WithEvents(bus)),
	}, nil
}

// Close releases the flow, the event bus and the store.
func (s *Services) Close() error {
	s.Flow.Close()
	s.Events.Close()
	return s.Store.Close()
}
