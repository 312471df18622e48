// Package app assembles the engine for embedding applications: config,
// logging, metrics exposition, the reconciler and the janitor.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"roomline/internal/janitor"
	"roomline/pkg/client"
	"roomline/pkg/config"
	"roomline/pkg/ingest"
	"roomline/pkg/logger"
	"roomline/pkg/telemetry"
	"roomline/pkg/timeline"
)

// App owns the engine lifecycle.
type App struct {
	cfg  config.Config
	proc *ingest.Processor

	srv           *http.Server
	cancelJanitor context.CancelFunc
	receipts      client.ReceiptSource
}

// New loads configuration (optional yaml path plus .env plus ROOMLINE_*
// overrides), initializes logging and builds the processor. Run starts the
// moving parts.
func New(cfgPath string, deps ingest.Deps, receipts client.ReceiptSource) (*App, error) {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger.InitWithLevel(cfg.Log.Level)

	zone, err := cfg.Zone()
	if err != nil {
		return nil, err
	}

	proc := ingest.NewProcessor(ingest.Config{
		Timeline: timeline.Config{
			LocalUserID:      cfg.Engine.LocalUserID,
			Zone:             zone,
			PendingPerTarget: cfg.Engine.PendingPerTarget,
			PendingMaxAge:    cfg.Engine.PendingMaxAge.Std(),
			EchoMatchWindow:  cfg.Engine.EchoMatchWindow.Std(),
			FailedEchoMaxAge: cfg.Engine.FailedEchoMaxAge.Std(),
		},
		QueueCapacity:    cfg.Engine.QueueCapacity,
		BatchSize:        cfg.Engine.BatchSize,
		SubscriberBuffer: cfg.Engine.SubscriberBuffer,
	}, deps)

	return &App{cfg: cfg, proc: proc, receipts: receipts}, nil
}

// Processor exposes the engine surface to the embedding application.
func (a *App) Processor() *ingest.Processor { return a.proc }

// Run starts the reconciler, the janitor and the optional metrics listener,
// then blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.proc.Start(ctx)

	if a.cfg.Janitor.Enabled {
		cancel, err := janitor.Start(ctx, a.cfg.Janitor.Cron, a.proc)
		if err != nil {
			return err
		}
		a.cancelJanitor = cancel
	}

	if a.receipts != nil && a.cfg.Engine.LocalUserID != "" {
		go a.pollReceipts(ctx)
	}

	errCh := make(chan error, 1)
	if addr := a.cfg.Telemetry.Addr; addr != "" {
		a.srv = &http.Server{Addr: addr, Handler: telemetry.Handler()}
		go func() {
			logger.Info("telemetry_listener_started", "addr", addr)
			if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// pollReceipts forwards the room-list projection's read-receipt state into
// the reconciler as read-marker updates.
func (a *App) pollReceipts(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, err := a.receipts.LastRead(ctx, a.cfg.Engine.LocalUserID)
			if err != nil || id.IsZero() {
				continue
			}
			_ = a.proc.SetReadMarker(id)
		}
	}
}

func (a *App) shutdown() {
	if a.cancelJanitor != nil {
		a.cancelJanitor()
	}
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}
	a.proc.Close()
}
