package main

import (
	"context"
	"log"

	"gorm.io/gorm"

	"ragcore-service/internal/bootstrap"
	"ragcore-service/internal/config"
	"ragcore-service/internal/server"
	"ragcore-service/internal/tracer"
	"ragcore-service/pkg/database"
)

func main() {
	cfg := config.Load()

	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

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

	srv := server.New(cfg, container)
	log.Fatal(srv.Run())
}
