package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"tokenrelay/internal/api"
	"tokenrelay/internal/config"
	"tokenrelay/internal/proxy"
	"tokenrelay/pkg/logging"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Application bootstraps and runs tokenrelay.
//
// Example usage:
//
//	application, err := app.NewApplication(ctx, cfg, configPath)
//	if err != nil {
//	    return err
//	}
//	defer application.Close()
//	return application.Run(ctx)
type Application struct {
	config     config.Config
	configPath string
	services   *Services
}

// NewApplication validates cfg and initializes every service. configPath is
// the file Run watches for changes; empty disables watching.
func NewApplication(ctx context.Context, cfg config.Config, configPath string) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{config: cfg, configPath: configPath, services: services}, nil
}

// Services returns the initialized components.
func (a *Application) Services() *Services {
	return a.services
}

// Close releases every service.
func (a *Application) Close() error {
	return a.services.Close()
}

// Run listens on the configured addresses and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	proxyLn, err := net.Listen("tcp", a.config.Proxy.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Proxy.Listen, err)
	}

	var apiLn net.Listener
	if a.config.API.Enabled {
		apiLn, err = net.Listen("tcp", a.config.API.Listen)
		if err != nil {
			_ = proxyLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", a.config.API.Listen, err)
		}
	}

	return a.Serve(ctx, proxyLn, apiLn)
}

// Serve serves the forward proxy on proxyLn and, when apiLn is not nil, the
// admin API. It returns when ctx is cancelled or a server fails.
func (a *Application) Serve(ctx context.Context, proxyLn, apiLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{{
		Handler:           proxy.NewHandler(a.services.Transport),
		ReadHeaderTimeout: 30 * time.Second,
	}}
	listeners := []net.Listener{proxyLn}
	logging.Info("Bootstrap", "Proxy listening on %s", proxyLn.Addr())

	if apiLn != nil {
		apiServer := api.NewServer(a.services.Credentials, a.services.Coordinator,
			api.WithEvents(a.services.Events),
			api.WithGatherer(a.services.Registry),
		)
		servers = append(servers, &http.Server{
			Handler:           apiServer.Router(),
			ReadHeaderTimeout: 30 * time.Second,
		})
		listeners = append(listeners, apiLn)
		logging.Info("Bootstrap", "Admin API listening on %s", apiLn.Addr())
	}

	for i, srv := range servers {
		ln := listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if a.configPath != "" {
		watcher := config.NewWatcher(a.configPath, 0, a.reload)
		if err := watcher.Start(ctx); err != nil {
			logging.Warn("Bootstrap", "Not watching %s for changes: %v", a.configPath, err)
		} else {
			defer watcher.Stop()
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		// Event streams only end when the bus closes.
		a.services.Events.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		logging.Info("Bootstrap", "Servers stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// reload registers the resources of a changed configuration file.
func (a *Application) reload(cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := config.RegisterResources(ctx, a.services.Credentials, cfg.Resources); err != nil {
		logging.Error("Bootstrap", err, "Registering reloaded resources failed")
		return
	}
	logging.Info("Bootstrap", "Registered %d resources from reloaded configuration", len(cfg.Resources))
}
