package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ramy7777/vrpong-multi-sub000/internal/config"
	"github.com/ramy7777/vrpong-multi-sub000/internal/directory"
	"github.com/ramy7777/vrpong-multi-sub000/internal/httpapi"
)

func main() {
	cfg := config.Load()

	log := buildLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := directory.New(ctx, log.Named("directory"), clockwork.NewRealClock())
	handler := httpapi.SetupRoutes(d, log.Named("gateway"))

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("relay listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.Inbox() <- directory.Shutdown{}
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatal("relay stopped", zap.Error(err))
	}
}

func buildLogger(cfg config.Config) *zap.Logger {
	var zc zap.Config
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zc.Level = lvl
	}
	log, err := zc.Build()
	if err != nil {
		panic(err)
	}
	return log
}
