package main

import (
	"context"
	"log"

	"gorm.io/gorm"

	"ragcore-service/internal/bootstrap"
	"ragcore-service/internal/config"
	"ragcore-service/pkg/database"
)

// The ingestion worker runs as its own process so it can be scaled
// independently of the HTTP/websocket server, matching spec.md §4.9's
// "one or more worker processes pulling from the durable queue".
func main() {
	cfg := config.Load()

	var gormDB *gorm.DB
	if cfg.Database.Connection != "" {
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection)
		if err != nil {
			log.Printf("[WARN] Unable to connect to GORM DB: %v. Falling back to in-memory stores", err)
		} else {
			gormDB = db
		}
	}

	container := bootstrap.NewContainer(gormDB, cfg)

	log.Printf("ragcore worker starting, durable=%s workers=%d", cfg.NATS.DurableName, cfg.NATS.WorkerCount)

	ctx := context.Background()
	errs := make(chan error, cfg.NATS.WorkerCount)
	for i := 0; i < cfg.NATS.WorkerCount; i++ {
		go func() {
			errs <- container.Worker.Run(ctx, cfg.NATS.DurableName)
		}()
	}
	log.Fatal(<-errs)
}
