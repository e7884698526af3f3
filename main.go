package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"patent-sync/config"
	"patent-sync/models"
	"patent-sync/providers/scholar"
	"patent-sync/services"
	"patent-sync/storage"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Patent{}, &models.ScholarProfile{}, &models.ScrapeRun{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	patentService, err := newPatentService(cfg, db, logging)
	if err != nil {
		logging.Fatal("Patent service setup failed", zap.Error(err))
	}

	router := setupRouter(cfg, patentService, logging)

	// Ohne CRON_SCHEDULE übernimmt cmd/refresh die Planung von außen.
	if cfg.CronSchedule != "" {
		cronScheduler := cron.New()
		_, err := cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled patent refresh...")
			results, err := patentService.RefreshAllEligibleUsers(context.Background(), "cron")
			if errors.Is(err, services.ErrRefreshAlreadyRunning) {
				logging.Warn("Skipping scheduled refresh, a batch is still running")
				return
			}
			if err != nil {
				logging.Error("Cron job failed", zap.Error(err))
				return
			}
			summary := services.Summarize(results)
			logging.Info("Cron job completed",
				zap.Int("users_processed", summary.UsersProcessed),
				zap.Int("users_failed", summary.UsersFailed),
				zap.Int("patents_stored", summary.PatentsStored))
		})
		if err != nil {
			logging.Fatal("Invalid cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
		}
		cronScheduler.Start()
		defer cronScheduler.Stop()
		logging.Info("Cron scheduler started", zap.String("schedule", cfg.CronSchedule))
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Ein Batch über alle Nutzer kann deutlich länger dauern als ein normaler Request.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// newPatentService verdrahtet Scraper, Repositories und das optionale Seitenarchiv.
func newPatentService(cfg *config.Config, db *gorm.DB, log *zap.Logger) (*services.PatentService, error) {
	scraper, err := scholar.NewScraper(cfg, log)
	if err != nil {
		return nil, err
	}

	svc := services.NewPatentService(scraper, storage.NewPatentRepository(db), storage.NewProfileRepository(db), log)
	svc.Runs = services.NewRunService(storage.NewRunRepository(db))
	svc.Workers = cfg.RefreshWorkers

	if cfg.SnapshotsEnabled() {
		snapshots, err := storage.NewS3Snapshots(cfg)
		if err != nil {
			return nil, err
		}
		svc.Snapshots = snapshots
		log.Info("Snapshot archive enabled", zap.String("bucket", cfg.SnapshotS3Bucket))
	}
	return svc, nil
}

func setupRouter(cfg *config.Config, svc *services.PatentService, log *zap.Logger) *gin.Engine {
	router := gin.Default()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	setupProfileRoutes(router, svc.Profiles, log)
	setupPatentRoutes(router, svc, log)
	setupBatchRoutes(router, cfg, svc, log)
	return router
}

func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return uint(id), true
}

func setupProfileRoutes(router *gin.Engine, profiles services.ProfileStore, log *zap.Logger) {
	rg := router.Group("/users/:userId/scholar-profile")

	rg.GET("", func(c *gin.Context) {
		userID, ok := parseUserID(c)
		if !ok {
			return
		}
		profile, err := profiles.Get(c.Request.Context(), userID)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scholar profile not found"})
			return
		}
		if err != nil {
			log.Error("Loading scholar profile failed", zap.Uint("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, profile)
	})

	rg.PUT("", func(c *gin.Context) {
		userID, ok := parseUserID(c)
		if !ok {
			return
		}

		var req struct {
			GoogleScholarProfileURL *string `json:"google_scholar_profile_url"`
			PatentsToDisplayCount   *int    `json:"patents_to_display_count" binding:"omitempty,min=1,max=100"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		profile := &models.ScholarProfile{UserID: userID, PatentsToDisplayCount: 5}
		if req.PatentsToDisplayCount != nil {
			profile.PatentsToDisplayCount = *req.PatentsToDisplayCount
		}
		if req.GoogleScholarProfileURL != nil {
			if u := strings.TrimSpace(*req.GoogleScholarProfileURL); u != "" {
				if _, err := scholar.ExtractProfileID(u); err != nil {
					se := &services.ScrapeError{Kind: services.KindInvalidProfileURL, UserID: userID, Err: err}
					c.JSON(http.StatusUnprocessableEntity, gin.H{"error": se.Kind, "message": se.Message()})
					return
				}
				profile.GoogleScholarProfileURL = &u
			}
		}

		if err := profiles.Upsert(c.Request.Context(), profile); err != nil {
			log.Error("Saving scholar profile failed", zap.Uint("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, profile)
	})
}

func setupPatentRoutes(router *gin.Engine, svc *services.PatentService, log *zap.Logger) {
	rg := router.Group("/users/:userId/patents")

	rg.GET("", func(c *gin.Context) {
		userID, ok := parseUserID(c)
		if !ok {
			return
		}
		patents, err := svc.ListPatents(c.Request.Context(), userID)
		if err != nil {
			log.Error("Database query for patents failed", zap.Uint("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, patents)
	})

	rg.GET("/markdown", func(c *gin.Context) {
		userID, ok := parseUserID(c)
		if !ok {
			return
		}
		md, err := svc.PatentSectionMarkdown(c.Request.Context(), userID)
		if err != nil {
			log.Error("Rendering patent section failed", zap.Uint("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
	})

	rg.POST("/refresh", func(c *gin.Context) {
		userID, ok := parseUserID(c)
		if !ok {
			return
		}
		result, err := svc.RefreshPatents(c.Request.Context(), userID)
		if err != nil {
			writeRefreshError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupBatchRoutes(router *gin.Engine, cfg *config.Config, svc *services.PatentService, log *zap.Logger) {
	rg := router.Group("", apiKeyAuthMiddleware(cfg))

	rg.POST("/patents/refresh-all", func(c *gin.Context) {
		// Der Batch läuft auch dann zu Ende, wenn der Aufrufer die Verbindung trennt.
		results, err := svc.RefreshAllEligibleUsers(context.WithoutCancel(c.Request.Context()), "api")
		if errors.Is(err, services.ErrRefreshAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "refresh_already_running", "message": err.Error()})
			return
		}
		if err != nil {
			log.Error("Batch patent refresh failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "batch refresh failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results, "summary": services.Summarize(results)})
	})

	rg.GET("/scrape-runs", func(c *gin.Context) {
		if svc.Runs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history disabled"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		runs, err := svc.Runs.Recent(c.Request.Context(), limit)
		if err != nil {
			log.Error("Database query for scrape runs failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, runs)
	})
}

// writeRefreshError übersetzt einen Abgleichsfehler in Status und Body.
func writeRefreshError(c *gin.Context, err error) {
	var se *services.ScrapeError
	if !errors.As(err, &se) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": services.KindScrapeFailed, "message": "Refreshing patents failed."})
		return
	}
	c.JSON(refreshErrorStatus(se), gin.H{"error": se.Kind, "message": se.Message()})
}

func refreshErrorStatus(se *services.ScrapeError) int {
	switch se.Kind {
	case services.KindInvalidProfileURL:
		if errors.Is(se, services.ErrProfileNotFound) {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	case services.KindFetchFailed, services.KindParseError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
