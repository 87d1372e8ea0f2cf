package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/provgate/internal/auth"
	"github.com/dhawalhost/provgate/internal/config"
	"github.com/dhawalhost/provgate/internal/scim"
	"github.com/dhawalhost/provgate/internal/store/registry"
	"github.com/dhawalhost/provgate/pkg/logger"
	"github.com/dhawalhost/provgate/pkg/middleware"
	"github.com/dhawalhost/provgate/pkg/observability"
)

const serviceName = "provgate"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: serviceName,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracer(ctx)

	stores, err := registry.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build stores", zap.Error(err))
	}
	if stores.DB != nil {
		defer stores.DB.Close()
	}

	metrics := observability.NewMetrics()
	verifier := auth.NewVerifier(cfg.Authentication.Secret, cfg.Authentication.JWTSecret, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(observability.PrometheusMiddleware(metrics))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RateLimitMiddleware(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORS.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))
	router.GET("/health", healthCheck(stores))

	scimGroup := router.Group("/scim")
	scimGroup.Use(verifier.Middleware())
	scim.NewHTTPHandler(stores.Users, stores.Groups, log).RegisterRoutes(scimGroup)

	log.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
	if err := router.Run(cfg.Server.Addr); err != nil {
		log.Fatal("HTTP server failed", zap.Error(err))
	}
}

func healthCheck(stores *registry.Stores) gin.HandlerFunc {
	return func(c *gin.Context) {
		if stores.DB != nil {
			if err := stores.DB.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
