package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/device-presence-service/internal/config"
	"github.com/sandeepkv93/device-presence-service/internal/health"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
)

// BackgroundTask runs until ctx is cancelled.
type BackgroundTask interface {
	Run(ctx context.Context) error
}

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	Readiness       *health.ProbeRunner
	Tasks           []BackgroundTask
	ShutdownTimeout time.Duration

	closers []func() error
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	readiness *health.ProbeRunner,
	tasks []BackgroundTask,
	closers ...func() error,
) *App {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		Readiness:       readiness,
		Tasks:           tasks,
		ShutdownTimeout: timeout,
		closers:         closers,
	}
}

// Run serves HTTP and the background tasks until ctx is cancelled or one of
// them fails, then drains the server and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr, "telemetry", a.Observability.Exported())
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, task := range a.Tasks {
		g.Go(func() error {
			if err := task.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdownServer()
	})

	runErr := g.Wait()
	if err := a.Close(); err != nil {
		a.Logger.Error("shutdown cleanup failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (a *App) shutdownServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()
	a.Logger.Info("http server shutting down", "timeout", a.ShutdownTimeout.String())
	if err := a.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close flushes telemetry and releases storage handles. Safe to call once
// after Run returns or instead of Run in one-shot commands.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := a.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
