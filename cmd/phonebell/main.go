package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/phonebell/phonebell/internal/api"
	"github.com/phonebell/phonebell/internal/api/middleware"
	"github.com/phonebell/phonebell/internal/auth"
	"github.com/phonebell/phonebell/internal/chatbridge"
	"github.com/phonebell/phonebell/internal/config"
	"github.com/phonebell/phonebell/internal/doorbell"
	"github.com/phonebell/phonebell/internal/metrics"
	"github.com/phonebell/phonebell/internal/phone"
	"github.com/phonebell/phonebell/internal/signaling"
	"github.com/phonebell/phonebell/internal/transport"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting phonebell",
		"http_port", cfg.HTTPPort,
		"tls", cfg.TLSEnabled(),
		"config_file", cfg.ConfigFile,
		"chat_bridge", cfg.ChatAPIKey != "",
	)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	guard := auth.NewGuard(logger)
	guard.StartCleanup(appCtx, time.Minute)

	hub := phone.NewHub(phone.HubConfig{
		Secret:       cfg.PhoneAPIKey,
		PingInterval: cfg.PingInterval,
		Door: phone.DoorOpenerFunc(func(phoneID string) {
			// No door hardware is attached yet; the request is only recorded.
			logger.Info("door opener triggered", "phone_id", phoneID)
		}),
	}, logger)

	opts := transport.Options{
		QueueSize:    cfg.SendQueue,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
	}

	relay := signaling.NewRelay(cfg.PingInterval, logger)
	bell := doorbell.NewBroadcaster(logger)
	bridge := chatbridge.NewBridge(cfg.ChatAPIKey, logger)

	reg := prometheus.NewRegistry()

	handler := api.NewServer(cfg, api.Handlers{
		PhoneOutside: phone.NewHandler(hub, phone.Outside, guard, opts, logger),
		PhoneInside:  phone.NewHandler(hub, phone.Inside, guard, opts, logger),
		Signaling:    signaling.NewHandler(relay, opts, logger),
		Doorbell:     doorbell.NewHandler(bell, opts, logger),
		ChatBot:      chatbridge.NewBotHandler(bridge, guard, opts, logger),
		ChatBoard:    chatbridge.NewDashboardHandler(bridge, opts, logger),
	}, bell, reg, logger)
	defer handler.Close()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(hub, relay, bell, bridge, guard, startTime).WithRateLimits(handler),
	)

	// Upgraded sockets clear these deadlines, so they only bound plain HTTP.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.TLSEnabled())
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Optional plain-HTTP listener that only redirects to the TLS port.
	var redirectSrv *http.Server
	if cfg.RedirectPort != 0 {
		redirectSrv = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.RedirectPort),
			Handler:      middleware.HTTPSRedirectHandler(cfg.HTTPPort),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
		go func() {
			slog.Info("https redirect listening", "addr", redirectSrv.Addr)
			if err := redirectSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down http server")
	appCancel()
	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			slog.Error("redirect server shutdown error", "error", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		exitCode = 1
	}

	slog.Info("phonebell stopped")
	if exitCode != 0 {
		handler.Close()
		os.Exit(exitCode)
	}
}
