// Package runtime wires configuration, stores, services and the HTTP
// server into one process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/liveiq-tools/report-layer/internal/app"
	"github.com/liveiq-tools/report-layer/internal/app/errlog"
	"github.com/liveiq-tools/report-layer/internal/app/httpapi"
	"github.com/liveiq-tools/report-layer/internal/app/storage/postgres"
	"github.com/liveiq-tools/report-layer/internal/config"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

// Application wires core dependencies and manages the process lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	errs   *errlog.Log
	app    *app.Application
	server *http.Server
	db     *sqlx.DB
}

// NewApplication constructs a fully wired application from cfg. The account
// roster is loaded immediately; store discovery and the HTTP server wait
// for Run.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	log := logger.New(cfg.Logging)

	errs, err := errlog.Open(cfg.ErrorLog)
	if err != nil {
		return nil, err
	}

	stores := app.Stores{}
	var db *sqlx.DB
	if cfg.History.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		db, err = postgres.Open(ctx, cfg.History.DSN, cfg.History.MaxOpenConns, cfg.History.MaxIdleConns)
		if err != nil {
			_ = errs.Close()
			return nil, fmt.Errorf("history database: %w", err)
		}
		if err := postgres.Apply(ctx, db); err != nil {
			_ = db.Close()
			_ = errs.Close()
			return nil, fmt.Errorf("history schema: %w", err)
		}
		stores.History = postgres.New(db)
		log.Info("batch history backed by postgres")
	}

	application, err := app.New(cfg, stores, errs, log)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		_ = errs.Close()
		return nil, err
	}

	loaded, err := application.Registry.Load(context.Background(), cfg.Accounts)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		_ = errs.Close()
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	if loaded == 0 {
		log.Warn("no usable accounts configured; the roster is empty until the config is fixed")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewHandler(application),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		errs:   errs,
		app:    application,
		server: server,
		db:     db,
	}, nil
}

// App exposes the composed services for one-shot callers that bypass the
// HTTP server.
func (a *Application) App() *app.Application { return a.app }

// Log returns the process logger.
func (a *Application) Log() *logger.Logger { return a.log }

// Run starts the background services and the HTTP server, then blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	// Populate store sets without delaying server readiness.
	go func() {
		if err := a.app.Discovery.Refresh(ctx); err != nil && ctx.Err() == nil {
			a.log.WithError(err).Warn("initial store discovery failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, the services and every owned resource.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}

	a.app.Stop(shutdownCtx)

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if err := a.errs.Close(); err != nil {
		a.log.WithError(err).Warn("error closing error log")
	}
	return firstErr
}
