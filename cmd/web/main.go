// Package main serves the Neuna companion over HTTP for browser front ends,
// with a websocket device feed and a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/neuna/neuna/internal/companion"
	"github.com/neuna/neuna/internal/config"
	"github.com/neuna/neuna/internal/logging"
	"github.com/neuna/neuna/internal/permission"
	"github.com/neuna/neuna/internal/weather"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	paths, err := config.GetPaths(cfg.Home)
	if err == nil {
		err = paths.EnsureDirectories()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "paths: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Options{
		File:    cfg.LogFilePath(paths),
		Level:   cfg.LogLevel,
		Console: true,
	}).With(zap.String("service", "neuna-web"))
	defer log.Sync()

	if err := run(cfg, paths, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, paths *config.Paths, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// There is no terminal to prompt on; the browser asks the user before
	// it sends camera, microphone or location data.
	policy := permission.Policy(cfg.Permissions)
	if policy == permission.Prompt {
		policy = permission.Allow
	}
	gate := permission.NewGate(policy, permission.WithLogger(log))

	app, err := companion.FromConfig(ctx, cfg, paths, gate, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()
	log.Info("companion ready", zap.String("backend", app.Backend()))

	server := NewWebServer(app, log)
	httpSrv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("web server listening", zap.String("addr", cfg.WebAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		return backendHealth(gctx, app, healthSrv, log)
	})

	g.Go(func() error {
		w := app.WeatherWatcher(cfg.WeatherRefresh, func(r weather.Report) {
			if !r.OK() {
				log.Info("weather refresh paused", zap.String("reason", r.Message()))
			}
		})
		if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		healthSrv.Shutdown()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// backendHealth mirrors model backend reachability into the gRPC health
// status until ctx is done.
func backendHealth(ctx context.Context, app *companion.App, srv *health.Server, log *zap.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		res, err := app.Health(checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil || !res.Ok {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			log.Warn("model backend unhealthy", zap.Error(err))
		}
		srv.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
