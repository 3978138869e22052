package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/chessroom/internal/config"
	"github.com/park285/chessroom/internal/directory"
	"github.com/park285/chessroom/internal/gateway"
	"github.com/park285/chessroom/internal/httpapi"
	"github.com/park285/chessroom/internal/msgcat"
	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/room"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(obslog.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Console: cfg.LogConsole,
		File:    cfg.LogFile,
		Caller:  cfg.LogCaller,
	}); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_error", zap.String("dir", cfg.MessagesDir), zap.Error(err))
	}

	opts := room.Options{
		TickInterval:       cfg.TickInterval,
		DefaultTimeControl: cfg.DefaultTimeControl,
		TimeControlAllowed: cfg.TimeControlAllowed,
		Messages:           msgs,
	}

	var store *directory.Store
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, err = directory.Open(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Fatal("directory_open_error", zap.Error(err))
		}
		opts.Directory = store
		logger.Info("directory_enabled")
	}

	reg := room.NewRegistry(opts)
	hub := gateway.NewHub(reg, gateway.Options{Messages: msgs})

	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, gateway.NewHandler(hub, cfg.AllowedOrigins))
	wsSrv := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	apiOpts := httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		CreatePerMinute: 30,
		Messages:        msgs,
		AccessLog:       cfg.LogLevel == "debug",
	}
	if store != nil {
		apiOpts.Directory = store
	}
	app := httpapi.NewApp(reg, hub, apiOpts)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ws_listen", zap.String("addr", cfg.WSAddr), zap.String("path", cfg.WSPath))
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("listener_error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Shutdown()
	if err := wsSrv.Shutdown(ctx); err != nil {
		logger.Warn("ws_shutdown_error", zap.Error(err))
	}
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	reg.Close(ctx)
	if store != nil {
		_ = store.Close()
	}
	logger.Info("shutdown_complete")
}
