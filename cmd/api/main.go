package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"subjectfix/internal/admin"
	"subjectfix/internal/api"
	"subjectfix/internal/app"
	"subjectfix/internal/config"
	"subjectfix/internal/dispatch"
	"subjectfix/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	menus := dispatch.NewRegistry()
	if err := menus.Register(dispatch.Menu); err != nil {
		logger.Fatal("menu registration failed", zap.Error(err))
	}

	adm, err := admin.NewAdminHandler(cfg, a.Store, a.Journal, a.DialSession, logger.Named("admin"))
	if err != nil {
		logger.Fatal("admin setup failed", zap.Error(err))
	}

	handler := &api.Handler{
		Dispatcher: a.Dispatcher,
		Menus:      menus,
		Dial:       a.DialSession,
		Admin:      adm,
		Ready:      a.Store,
		Gatherer:   a.Registry,
		Log:        logger.Named("http"),
		Refresh:    a.RefreshPatterns,
	}
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ListenAndServe failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exiting")
}
