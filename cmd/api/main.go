package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	redis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "github.com/civicplus/civicplus-backend/docs"
	"github.com/civicplus/civicplus-backend/internal/config"
	"github.com/civicplus/civicplus-backend/internal/database"
	"github.com/civicplus/civicplus-backend/internal/notification"
	"github.com/civicplus/civicplus-backend/internal/report"
	"github.com/civicplus/civicplus-backend/internal/sensor"
	"github.com/civicplus/civicplus-backend/internal/user"
	"github.com/civicplus/civicplus-backend/internal/vision"
	"github.com/civicplus/civicplus-backend/pkg/logger"
	"github.com/civicplus/civicplus-backend/pkg/metrics"
	mw "github.com/civicplus/civicplus-backend/pkg/middleware"
)

// @title CivicPlus API
// @version 1.0
// @description Civic infrastructure reporting backend with report clustering, status cascade and real-time notifications.
// @BasePath /api/v1
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat, "civicplus-api")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	zl.Info("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Notification fan-out. Redis is optional: without it events are
	// delivered to listeners on this instance only.
	registry := notification.NewRegistry()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zl.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		zl.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}
	dispatcher := notification.NewDispatcher(registry, rdb, m, zl)
	if rdb != nil {
		go func() {
			if err := dispatcher.RunBridge(ctx); err != nil {
				zl.Error("notification bridge stopped", zap.Error(err))
			}
		}()
	}

	var visionClient report.VisionClassifier
	if cfg.VisionURL != "" {
		visionClient = vision.NewClient(cfg.VisionURL, cfg.VisionAPIKey)
		zl.Info("vision classification enabled", zap.String("url", cfg.VisionURL))
	}

	// User feature
	userRepo := user.NewRepository(db)
	userService := user.NewService(userRepo)
	userHandler := user.NewHandler(userService)

	// Report feature
	reportRepo := report.NewRepository(db)
	reportService := report.NewService(reportRepo, userRepo, dispatcher, visionClient, m, cfg.ClusterRadiusMeters, zl)
	reportHandler := report.NewHandler(reportService)

	// Notification stream
	notificationHandler := notification.NewHandler(registry, zl)

	// Sensor alert ingestor, enabled when a broker is configured
	if cfg.MQTTBroker != "" {
		ingestor, err := sensor.NewIngestor(sensor.Config{
			Broker:       cfg.MQTTBroker,
			Topic:        cfg.MQTTTopic,
			ClientID:     cfg.MQTTClientID,
			SensorUserID: cfg.SensorUserID,
		}, reportService, zl)
		if err != nil {
			zl.Fatal("failed to start sensor ingestor", zap.Error(err))
		}
		if err := ingestor.Start(ctx); err != nil {
			zl.Fatal("failed to subscribe to sensor alerts", zap.Error(err))
		}
		defer ingestor.Stop()
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.AuthContext)
		r.Mount("/users", userHandler.Routes())
		// The notification stream holds its connection open, so the
		// request timeout applies to the report routes only.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Mount("/reports", reportHandler.Routes())
		})
		r.Mount("/notifications", notificationHandler.Routes())
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
