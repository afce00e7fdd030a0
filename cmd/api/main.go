package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/safar/go-cart-store/internal/auth"
	"github.com/safar/go-cart-store/internal/cart"
	"github.com/safar/go-cart-store/internal/config"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/httpapi"
	"github.com/safar/go-cart-store/internal/logger"
	"github.com/safar/go-cart-store/internal/metrics"
	"github.com/safar/go-cart-store/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logr := logger.New(logger.Options{
		Service: cfg.App.Name,
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
	})

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logr.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logr.Info("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "cartstore"),
	)
	cartMetrics := metrics.NewCartMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logr)
		defer func() {
			if err := kp.Close(); err != nil {
				logr.Warn("close kafka publisher", "error", err)
			}
		}()
		publisher = kp
	} else {
		logr.Info("kafka brokers not configured, cart events disabled")
	}

	carts := cart.NewService(cart.Deps{
		Tx:     cart.NewSQLTransactor(db, cfg.Cart.MaxRetries, cfg.Cart.LockTimeout, logr, cartMetrics),
		Reader: db,
		Ledger: store.NewStockLedger(nil),
		Lines:  store.NewLineRepository(nil),
		Carts:  store.NewCartRepository(nil),
		Owners: store.OwnerRepository{},
	},
		cart.WithLogger(logr),
		cart.WithMetrics(cartMetrics),
		cart.WithPublisher(publisher),
		cart.WithTxTimeout(cfg.Cart.TxTimeout),
	)

	api := httpapi.NewServer(db, carts, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), logr,
		httpapi.WithMetrics(httpMetrics),
		httpapi.WithHealthCheck(db.PingContext),
		httpapi.WithHandler("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logr.Handler(), slog.LevelError),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", "port", cfg.Server.Port)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server error", "error", err)
		}
		return
	case <-ctx.Done():
	}

	logr.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", "error", err)
	}
}
