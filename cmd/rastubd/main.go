// Command rastubd is the local development stub: one process serving the
// identity, CDV and gateway surfaces the CLI talks to, backed by memory or
// a cdv.json file. It exists so the CLI can be exercised end to end
// without the real services.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/config"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/stub"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadStub()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store stub.Store
	switch cfg.Backend {
	case "file":
		store, err = stub.NewFile(cfg.FilePath)
		if err != nil {
			logger.Error("open record store", "error", err)
			os.Exit(1)
		}
		logger.Info("using file backend", "path", cfg.FilePath)
	default:
		store = stub.NewMemory()
		logger.Info("using memory backend")
	}

	handler, err := stub.New(cfg, store, logger)
	if err != nil {
		logger.Error("initialize handler", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("rastubd starting", "addr", srv.Addr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	} else {
		logger.Info("shutdown complete")
	}
}
