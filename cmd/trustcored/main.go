// Command trustcored runs the directory core with its debug HTTP surface:
// Prometheus metrics, cache and query statistics, and a health check.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trustcore"
	"trustcore/directory"
	"trustcore/internal/di"
)

func main() {
	configPath := flag.String("config", "trustcore.yaml", "path to the YAML config file")
	migrate := flag.Bool("migrate", true, "apply pending schema migrations on startup")
	flag.Parse()

	cfg, err := trustcore.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, app, *migrate)
	stop()
	if err != nil {
		app.Logger.Error("trustcored stopped", zap.Error(err))
	}
	_ = app.Logger.Sync()
	cleanup()
	if err != nil {
		os.Exit(1)
	}
}

// run applies migrations when asked, then serves until ctx is done or the
// listener fails. It never exits the process, so the caller can release app.
func run(ctx context.Context, app *di.App, migrate bool) error {
	if migrate {
		n, err := directory.Migrate(ctx, app.DB, app.Logger)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		app.Logger.Info("Migrations applied", zap.Int("count", n))
	}

	srv := &http.Server{
		Addr:         app.Config.Server.Addr,
		Handler:      NewRouter(app),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		app.Logger.Info("Starting debug server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
