package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx := context.Background()
	switch cfg.StorageBackend {
	case config.BackendSQL:
		// Open migrates the schema
		_, closeStore, err := storage.Open(ctx, cfg)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		_ = closeStore()
	default:
		if cfg.StorageConnStr == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		if err := storage.Provision(ctx, cfg.StorageConnStr, []string{cfg.BoardTable, cfg.ProjectsTable}, []string{cfg.EventsQueue}); err != nil {
			log.Fatalf("provision: %v", err)
		}
	}

	log.Info("storage init complete")
}
