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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/proxychecker/internal/config"
	"github.com/hamed0406/proxychecker/internal/httpapi"
	apimw "github.com/hamed0406/proxychecker/internal/httpapi/middleware"
	"github.com/hamed0406/proxychecker/internal/logging"
	"github.com/hamed0406/proxychecker/internal/probe"
	"github.com/hamed0406/proxychecker/internal/scheduler"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("api_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, cfg.SeedFile, st, logger); err != nil {
			return err
		}
	}

	prober := probe.NewExecutor(cfg.ProxyTestURL)
	sup := scheduler.NewSupervisor(logger, st, st, prober, probe.Timeout)
	if err := sup.StartAll(ctx); err != nil {
		return err
	}

	api := httpapi.NewServer(logger, st, st, sup, prober, probe.NewDNSChecker(cfg.DNSResolver))
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	if !cfg.AuthEnabled() {
		logger.Warn("auth_disabled")
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grp, groupCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.String("store", st.kind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api_shutdown_error", zap.Error(err))
		}
		return sup.Shutdown(shutdownCtx)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("api_stopped")
	return nil
}
