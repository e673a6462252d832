package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/shopledger/internal/api/handlers"
	"github.com/andresuchdata/shopledger/internal/api/middleware"
	"github.com/andresuchdata/shopledger/internal/drive"
	"github.com/andresuchdata/shopledger/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Catalog   *service.CatalogService
	Analytics *service.AnalyticsService
	Migration *service.MigrationService
	Drive     *drive.Ingester
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api/v1")

	if services != nil {
		if services.Catalog != nil && services.Analytics != nil {
			catalogHandler := handlers.NewCatalogHandler(services.Catalog, services.Analytics)
			apiGroup.GET("/products", catalogHandler.ListProducts)
			apiGroup.POST("/products/import", catalogHandler.ImportProducts)

			billGroup := apiGroup.Group("/bills")
			{
				billGroup.GET("", catalogHandler.ListBills)
				billGroup.GET("/:id", catalogHandler.GetBill)
				billGroup.PUT("/:id/status", catalogHandler.UpdateBillStatus)
				billGroup.DELETE("/:id", catalogHandler.DeleteBill)
			}

			apiGroup.GET("/analytics/vendors", catalogHandler.VendorSummaries)
		}

		if services.Drive != nil {
			driveHandler := handlers.NewDriveHandler(services.Drive)
			driveGroup := apiGroup.Group("/drive")
			{
				driveGroup.GET("/files", driveHandler.ListFiles)
				driveGroup.POST("/import", driveHandler.Import)
			}
		}

		if services.Migration != nil {
			runHandler := handlers.NewRunHandler(services.Migration)
			apiGroup.POST("/migration", runHandler.StartMigration)

			validationGroup := apiGroup.Group("/validation")
			{
				validationGroup.POST("", runHandler.StartValidation)
				validationGroup.POST("/fix", runHandler.Remediate)
				validationGroup.GET("/latest", runHandler.LatestReport)
			}

			rollbackGroup := apiGroup.Group("/rollback")
			{
				rollbackGroup.GET("/preview", runHandler.PreviewRollback)
				rollbackGroup.POST("", runHandler.StartRollback)
			}

			runGroup := apiGroup.Group("/runs/:kind")
			{
				runGroup.GET("", runHandler.State)
				runGroup.POST("/reset", runHandler.Reset)
				runGroup.GET("/events", runHandler.Events)
				runGroup.GET("/history", runHandler.History)
			}

			apiGroup.GET("/archives", runHandler.ListArchives)
			apiGroup.GET("/archives/download", runHandler.GetArchive)
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		for _, part := range strings.Split(origin, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
