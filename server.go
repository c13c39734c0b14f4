package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/graph"
	"github.com/mmdatafocus/ims_backend/handlers"
	"github.com/mmdatafocus/ims_backend/middlewares"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP; until the store and lock are ready app endpoints return 503.
	handler := handlers.NewStockHandler(nil)
	var ready atomic.Bool

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		if !ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-user", "x-branch-id", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id", "Retry-After")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	rateLimitEnabled := strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true")

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	var limiter atomic.Pointer[middlewares.RateLimiter]
	api.Use(func(c *gin.Context) {
		if l := limiter.Load(); l != nil {
			l.RateLimitMiddleware(c)
			return
		}
		c.Next()
	})
	handler.Register(api)

	resolver := &graph.Resolver{}
	r.POST("/query", middlewares.LoaderMiddleware(func() middlewares.StockReader {
		if resolver.Service == nil {
			return nil
		}
		return resolver.Service
	}), graphqlHandler(resolver))
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	if config.StoreBackend() == config.StoreBackendMySQL || config.LockBackend() == config.LockBackendMySQL {
		config.ConnectDatabaseWithRetry()
		db := config.GetDB()
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		// AutoMigrate can block tables; allow running it as a separate job instead.
		if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
			if err := models.MigrateTable(db); err != nil {
				logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
	}
	if rateLimitEnabled || config.LockBackend() == config.LockBackendRedis {
		config.ConnectRedisWithRetry(sigCtx)
	}
	if rateLimitEnabled {
		limiter.Store(middlewares.NewRateLimiter(config.GetRedisDB(), int64(config.IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
			time.Duration(config.IntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60))*time.Second))
	}

	store, err := workflow.NewStockStoreFromEnv()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "store"}).Fatal(err.Error())
	}
	locker, err := workflow.NewKeyLockerFromEnv(sigCtx, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "lock"}).Fatal(err.Error())
	}
	metrics := workflow.NewStockMetrics(prometheus.DefaultRegisterer, "ims")
	service := workflow.NewStockService(store, locker, logger, metrics)
	handler.Service = service
	resolver.Service = service
	ready.Store(true)

	// Outbox dispatcher publishes stock events after commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.StockEventsEnabled() {
		if client, err := config.GetClient(sigCtx); err != nil {
			config.LogError(logger, "server.go", "main", "pubsub client", nil, err)
		} else if _, err := config.CreateTopicIfNotExists(sigCtx, client, os.Getenv("PUBSUB_TOPIC")); err != nil {
			config.LogError(logger, "server.go", "main", "create pubsub topic", nil, err)
		}
		go workflow.NewOutboxDispatcher(store, workflow.PubSubPublisher{}, logger, metrics).Run(dispatcherCtx)
	}

	logger.WithFields(logrus.Fields{
		"store":   config.StoreBackend(),
		"lock":    config.LockBackend(),
		"port":    port,
		"strict":  strconv.FormatBool(service.StrictInvariants),
		"release": strconv.FormatBool(service.ReleaseOnIncomingReject),
	}).Info("stock service ready")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// graphqlHandler serves the order and incoming graph. Loaders come from LoaderMiddleware.
func graphqlHandler(resolver *graph.Resolver) gin.HandlerFunc {
	h := graph.NewHandler(resolver)
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
