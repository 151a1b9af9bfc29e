package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"civic-ingest/internal/config"
	"civic-ingest/internal/database"
	"civic-ingest/internal/logger"

	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  ensure-indexes        - Create collections' unique and lookup indexes")
		fmt.Println("  reset-failed [town]   - Move failed sync records back to pending")
		fmt.Println("  stats                 - Print sync, job and OCR totals")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg, "migrate")

	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	db := client.Database(cfg.DBName)

	switch command {
	case "ensure-indexes":
		if err := database.EnsureIndexes(ctx, db); err != nil {
			logger.Error("Index creation failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Indexes are in place", "db", cfg.DBName)

	case "reset-failed":
		town := ""
		if len(os.Args) > 2 {
			town = os.Args[2]
		}
		n, err := database.NewSyncRepo(db).ResetFailed(ctx, town)
		if err != nil {
			logger.Error("Reset failed", "town", town, "error", err)
			os.Exit(1)
		}
		logger.Info("Reset failed records to pending", "town", town, "count", n)

	case "stats":
		if err := printStats(ctx, db); err != nil {
			logger.Error("Stats failed", "error", err)
			os.Exit(1)
		}

	default:
		logger.Warn("Unknown command", "command", command)
		os.Exit(1)
	}
}

func printStats(ctx context.Context, db *mongo.Database) error {
	repos := database.NewRepositories(db)

	syncCounts, err := repos.Sync.CountByStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Sync records:")
	for _, k := range sortedKeys(syncCounts) {
		fmt.Printf("  %-14s %d\n", k, syncCounts[k])
	}

	jobCounts, err := repos.Jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Ingestion jobs:")
	for _, k := range sortedKeys(jobCounts) {
		fmt.Printf("  %-14s %d\n", k, jobCounts[k])
	}

	ocrCounts, err := repos.Blobs.CountByOCRStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Blob OCR status:")
	for _, k := range sortedKeys(ocrCounts) {
		fmt.Printf("  %-14s %d\n", k, ocrCounts[k])
	}
	return nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
