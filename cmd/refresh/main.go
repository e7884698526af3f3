package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

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

// refresh führt einen einzelnen Batch-Abgleich aus, z.B. aus einem externen Cron.
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
	if err := db.AutoMigrate(&models.Patent{}, &models.ScholarProfile{}, &models.ScrapeRun{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	scraper, err := scholar.NewScraper(cfg, logging)
	if err != nil {
		logging.Fatal("Scraper setup failed", zap.Error(err))
	}
	svc := services.NewPatentService(scraper, storage.NewPatentRepository(db), storage.NewProfileRepository(db), logging)
	svc.Runs = services.NewRunService(storage.NewRunRepository(db))
	svc.Workers = cfg.RefreshWorkers
	if cfg.SnapshotsEnabled() {
		snapshots, err := storage.NewS3Snapshots(cfg)
		if err != nil {
			logging.Fatal("Snapshot archive setup failed", zap.Error(err))
		}
		svc.Snapshots = snapshots
	}

	results, err := svc.RefreshAllEligibleUsers(context.Background(), "cli")
	if err != nil {
		logging.Error("Batch patent refresh failed", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}{
		"results": results,
		"summary": services.Summarize(results),
	}); err != nil {
		logging.Fatal("Could not write results", zap.Error(err))
	}
}
