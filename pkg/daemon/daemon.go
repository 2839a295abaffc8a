// Package daemon runs the random cache as a long-lived service: it opens
// the audit ledger, initializes the client from configuration and serves
// the status API until its context is cancelled.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/randpool/internal/logger"
	"github.com/marmos91/randpool/pkg/api"
	"github.com/marmos91/randpool/pkg/client"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/ledger"
	"github.com/marmos91/randpool/pkg/metrics"
	"github.com/marmos91/randpool/pkg/secret"
)

// Daemon owns every long-lived component of a running service.
type Daemon struct {
	cfg        *config.Config
	version    string
	clientOpts []client.Option

	serveOnce sync.Once
	started   chan struct{}

	mu     sync.RWMutex
	client client.Client
	ledger *ledger.Ledger
	api    *api.Server
}

// New creates a daemon. clientOpts are applied after the options derived
// from cfg, so tests can replace the supply source.
func New(cfg *config.Config, version string, clientOpts ...client.Option) *Daemon {
	return &Daemon{
		cfg:        cfg,
		version:    version,
		clientOpts: clientOpts,
		started:    make(chan struct{}),
	}
}

// Started is closed once the cache is initialized and the API server has
// been launched.
func (d *Daemon) Started() <-chan struct{} {
	return d.started
}

// Client returns the running client, or nil before Started.
func (d *Daemon) Client() client.Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client
}

// APIPort returns the bound API port, or 0 when the API is disabled.
func (d *Daemon) APIPort() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.api == nil {
		return 0
	}
	return d.api.Port()
}

// Serve runs until ctx is cancelled or the API server fails. It may be
// called once; later calls return nil immediately.
func (d *Daemon) Serve(ctx context.Context) error {
	var err error
	d.serveOnce.Do(func() {
		err = d.serve(ctx)
	})
	return err
}

func (d *Daemon) serve(ctx context.Context) error {
	logger.Info("Starting randpool daemon", "version", d.version)

	if d.cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	if err := d.open(ctx); err != nil {
		d.shutdown()
		return err
	}

	apiErrChan := make(chan error, 1)
	if d.cfg.API.IsEnabled() {
		srv := api.NewServer(d.cfg.API, d.client, metrics.GetRegistry(), d.version)
		d.mu.Lock()
		d.api = srv
		d.mu.Unlock()

		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("API server error", logger.KeyError, err)
				apiErrChan <- err
			}
		}()
		logger.Info("API server configured", "port", d.cfg.API.Port)
	} else {
		logger.Info("API server disabled")
	}
	close(d.started)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", ctx.Err())
	case err := <-apiErrChan:
		logger.Error("API server failed, initiating shutdown", logger.KeyError, err)
		serveErr = fmt.Errorf("API server error: %w", err)
	}

	d.shutdown()
	logger.Info("randpool daemon stopped")
	return serveErr
}

// open creates the ledger and the client and starts background
// maintenance.
func (d *Daemon) open(ctx context.Context) error {
	opts := []client.Option{
		client.WithEnvironment(d.cfg.Supply.Environment()),
		client.WithFetchConcurrency(d.cfg.Supply.FetchConcurrency),
		client.WithShutdownTimeout(d.cfg.ShutdownTimeout),
	}

	if d.cfg.Ledger.Enabled {
		lcfg := d.cfg.Ledger.LedgerOptions()
		lcfg.Metrics = metrics.NewLedgerMetrics()
		l, err := ledger.Open(lcfg)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		d.mu.Lock()
		d.ledger = l
		d.mu.Unlock()
		opts = append(opts, client.WithJournal(l))
		logger.Info("Ledger opened", "path", lcfg.Path)
	}

	token, err := d.cfg.Supply.Token()
	if err != nil {
		return err
	}
	cacheCfg, err := d.cfg.ToCacheConfig()
	if err != nil {
		return err
	}
	defer secret.Zero(cacheCfg.DeviceSecret)

	c := client.New(append(opts, d.clientOpts...)...)
	if err := c.InitializeAsync(ctx, token, cacheCfg); err != nil {
		return fmt.Errorf("failed to initialize random cache: %w", err)
	}

	d.mu.Lock()
	d.client = c
	d.mu.Unlock()
	return nil
}

// shutdown stops components in reverse start order. The API server stops
// itself when the serve context is cancelled.
func (d *Daemon) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.client != nil {
		if err := d.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("Error during shutdown", logger.KeyError, err)
	}
}
