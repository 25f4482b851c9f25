// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the seestarlink daemon: it keeps a session to the
// telescope alive and exposes a small HTTP control surface plus
// Prometheus metrics and health probes.
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

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/seestar-tools/seestarlink/pkg/catalog"
	"github.com/seestar-tools/seestarlink/pkg/controller"
	"github.com/seestar-tools/seestarlink/pkg/health"
	"github.com/seestar-tools/seestarlink/pkg/location"
	"github.com/seestar-tools/seestarlink/pkg/metrics"
	"github.com/seestar-tools/seestarlink/pkg/resolver"
	"github.com/seestar-tools/seestarlink/pkg/session"
)

// Config holds the daemon configuration.
type Config struct {
	// Telescope link
	TelescopeHost     string        `env:"TELESCOPE_HOST"      envDefault:"seestar.local"`
	TelescopeTCPPort  int           `env:"TELESCOPE_TCP_PORT"  envDefault:"4700"`
	TelescopeUDPPort  int           `env:"TELESCOPE_UDP_PORT"  envDefault:"4720"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT"     envDefault:"10s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT"     envDefault:"30s"`
	GotoTimeout       time.Duration `env:"GOTO_TIMEOUT"        envDefault:"120s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"  envDefault:"15s"`
	StrictHandshake   bool          `env:"STRICT_HANDSHAKE"    envDefault:"false"`

	// Observer site
	ObserverLatitude  float64 `env:"OBSERVER_LATITUDE"`
	ObserverLongitude float64 `env:"OBSERVER_LONGITUDE"`
	ObserverElevation float64 `env:"OBSERVER_ELEVATION"`
	ObserverTimezone  string  `env:"OBSERVER_TIMEZONE"`

	// Catalogs
	SimbadURL      string        `env:"SIMBAD_URL"`
	NEDURL         string        `env:"NED_URL"`
	SesameURL      string        `env:"SESAME_URL"`
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT"  envDefault:"10s"`
	CacheTTL       time.Duration `env:"CACHE_TTL"        envDefault:"24h"`
	CacheSize      int           `env:"CACHE_SIZE"       envDefault:"256"`

	// Servers
	HTTPPort        int           `env:"HTTP_PORT"         envDefault:"8080"`
	MetricsPort     int           `env:"METRICS_PORT"      envDefault:"9090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"  envDefault:"30s"`

	// Observability
	LogLevel  string `env:"LOG_LEVEL"   envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"  envDefault:"json"`
}

func main() {
	_ = godotenv.Load() // .env is optional

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting seestarlink",
		slog.String("telescope", cfg.TelescopeHost),
		slog.Int("tcp_port", cfg.TelescopeTCPPort),
		slog.Int("udp_port", cfg.TelescopeUDPPort),
	)

	m := metrics.New("seestarlink")

	loc := location.New()
	if cfg.ObserverLatitude != 0 || cfg.ObserverLongitude != 0 {
		err := loc.Configure(location.Observer{
			LatitudeDegrees:  cfg.ObserverLatitude,
			LongitudeDegrees: cfg.ObserverLongitude,
			ElevationMeters:  cfg.ObserverElevation,
			TimezoneID:       cfg.ObserverTimezone,
		})
		if err != nil {
			logger.Error("invalid observer site", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("observer site configured",
			slog.Float64("latitude", cfg.ObserverLatitude),
			slog.Float64("longitude", cfg.ObserverLongitude),
		)
	} else {
		logger.Warn("no observer site configured, visibility gating disabled")
	}

	simbad := catalog.NewResilient(catalog.NewSimbad(cfg.SimbadURL, nil), catalog.ResilientConfig{
		QueryTimeout: cfg.CatalogTimeout,
		Logger:       logger,
	})
	ned := catalog.NewResilient(catalog.NewNED(cfg.NEDURL, nil), catalog.ResilientConfig{
		QueryTimeout: cfg.CatalogTimeout,
		Logger:       logger,
	})
	sesame := catalog.NewResilient(catalog.NewSesame(cfg.SesameURL, nil), catalog.ResilientConfig{
		QueryTimeout: cfg.CatalogTimeout,
		Logger:       logger,
	})

	res := resolver.New(resolver.Config{
		CacheTTL:  cfg.CacheTTL,
		CacheSize: cfg.CacheSize,
		Logger:    logger,
		Metrics:   m,
	}, catalog.NewBuiltin(), catalog.NewEphemeris(), simbad, ned, sesame)

	sess := session.New(session.Config{
		Host:              cfg.TelescopeHost,
		TCPPort:           cfg.TelescopeTCPPort,
		UDPPort:           cfg.TelescopeUDPPort,
		ConnectTimeout:    cfg.ConnectTimeout,
		RequestTimeout:    cfg.RequestTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StrictHandshake:   cfg.StrictHandshake,
		MethodTimeouts: map[string]time.Duration{
			// Commands that move hardware get the long deadline.
			"iscope_start_view":     cfg.GotoTimeout,
			"scope_park":            60 * time.Second,
			"scope_move_to_horizon": 60 * time.Second,
		},
		Logger:  logger,
		Metrics: m,
	})

	ctrl := controller.New(sess, res, loc, controller.Config{
		GotoTimeout: cfg.GotoTimeout,
		Logger:      logger,
		Metrics:     m,
	})

	checker := health.NewChecker(10 * time.Second)
	checker.Register("telescope", true, health.SessionCheck(func() string {
		return sess.State().String()
	}))
	for _, c := range []*catalog.Resilient{simbad, ned, sesame} {
		c := c
		checker.Register(c.Name(), false, health.CircuitCheck(func() string {
			return c.CircuitState().String()
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Connect(ctx); err != nil {
		// The session keeps retrying on its own once up; a failed
		// first connect is fatal only in strict mode.
		logger.Error("initial connect failed", slog.Any("error", err))
		if cfg.StrictHandshake {
			os.Exit(1)
		}
	}
	defer sess.Disconnect()

	api := newAPIServer(ctrl, res, loc, checker, logger)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GotoTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("control API listening", slog.String("address", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics listening", slog.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("graceful shutdown completed")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
