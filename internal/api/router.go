// Package api provides HTTP routing for the CertifyChain record store.
// It wires together handlers, middleware, and services to create the application's API endpoints.
package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/api/handlers"
	"github.com/Abdullah-AboOun/CertifyChain/internal/api/middleware"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database"
	"github.com/Abdullah-AboOun/CertifyChain/internal/metrics"
	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
	"github.com/Abdullah-AboOun/CertifyChain/internal/upload"
)

// ChainReader is the read-only view of the registry the API needs
type ChainReader interface {
	service.CertificateReader
	service.FeeReader
	service.EntityReader
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *database.Database, reader ChainReader, uploads upload.Store, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.MetricsMiddleware(m))

	// Initialize services
	entityService := service.NewEntityService(db, logger)
	certService := service.NewCertificateService(db, logger)
	verifyService := service.NewVerifyService(reader, db, logger)
	feeService := service.NewFeeService(reader)
	registryService := service.NewRegistryService(reader, db, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg, logger)
	entityHandler := handlers.NewEntityHandler(entityService, certService, logger)
	certHandler := handlers.NewCertificateHandler(certService, logger)
	verifyHandler := handlers.NewVerifyHandler(verifyService, feeService, registryService, logger)
	uploadHandler := handlers.NewUploadHandler(uploads, cfg.Upload.MaxSize, m, logger)

	router.GET("/health", healthCheck(db))
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}
	if local, ok := uploads.(*upload.LocalStore); ok {
		router.Static(staticPath(cfg.Upload.PublicBaseURL), local.Dir())
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(cfg))

	// Public routes
	public := v1.Group("")
	{
		public.POST("/auth/signin", authHandler.SignIn)

		public.GET("/fees", verifyHandler.Fees)
		public.GET("/verify/:onChainId", verifyHandler.Verify)

		public.GET("/entities", entityHandler.ListEntities)
		public.GET("/entities/:id/certificates", entityHandler.ListEntityCertificates)
		public.GET("/wallets/:address/entity", entityHandler.GetWalletEntity)
		public.GET("/wallets/:address/registry", verifyHandler.Registry)

		public.GET("/certificates", certHandler.Search)
		public.GET("/certificates/:id", certHandler.GetCertificate)
		public.GET("/lookup/certificate", certHandler.Lookup)
	}

	// Protected routes (require a wallet session)
	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(cfg))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.GET("/me/entity", entityHandler.GetMyEntity)
		protected.GET("/me/certificates", certHandler.ListMine)

		protected.POST("/entities", entityHandler.CreateEntity)
		protected.PATCH("/entities/:id", entityHandler.UpdateEntity)
		protected.PUT("/entities/:id/chain", entityHandler.LinkEntityChain)

		protected.POST("/certificates", certHandler.CreateCertificate)
		protected.PUT("/certificates/:id/chain", certHandler.AttachChainID)
		protected.PUT("/certificates/:id/revoke", certHandler.RevokeCertificate)

		protected.POST("/uploads", uploadHandler.Upload)
	}

	return router
}

func healthCheck(db *database.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func staticPath(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/uploads"
	}
	return u.Path
}
