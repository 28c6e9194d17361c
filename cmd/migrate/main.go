package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"ragcore-service/pkg/database"
	"ragcore-service/pkg/ragcore/job"
	"ragcore-service/pkg/ragcore/vectorindex"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(dsn)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting ragcore migration...")

	log.Println("Step 1: Setting up extensions...")
	setupSQL := []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
		`CREATE EXTENSION IF NOT EXISTS vector;`,
	}
	for _, sql := range setupSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute setup SQL: %v. Continuing...", err)
		}
	}

	log.Println("Step 2: AutoMigrate chunk_embeddings and ingestion_jobs...")
	if err := vectorindex.AutoMigrate(db); err != nil {
		log.Fatalf("Error: chunk_embeddings migration failed: %v", err)
	}
	if err := job.AutoMigrate(db); err != nil {
		log.Fatalf("Error: ingestion_jobs migration failed: %v", err)
	}

	log.Println("Step 3: Index for cosine similarity search...")
	indexSQL := []string{
		`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_vector ON chunk_embeddings USING ivfflat (vector vector_cosine_ops) WITH (lists = 100);`,
	}
	for _, sql := range indexSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to create index: %v. Continuing...", err)
		}
	}

	log.Println("Migration complete.")
}
