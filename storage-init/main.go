// Command storage-init provisions the storage the tracker runs on: the
// SQLite schema, or the Azure table and events queue.
package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"prism-tracker/config"
	"prism-tracker/storage"
)

func main() {
	flags := pflag.NewFlagSet("storage-init", pflag.ExitOnError)
	configPath := flags.String("config", os.Getenv("CONFIG_FILE"), "YAML config file")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("backend", cfg.StorageBackend).Info("storage init starting")

	ctx := context.Background()
	switch cfg.StorageBackend {
	case "sqlite":
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("migrate sqlite: %v", err)
		}
		_ = db.Close()
	case "aztables":
		if err := storage.EnsureTables(ctx, cfg.ConnectionString, cfg.EntitiesTable); err != nil {
			log.Fatalf("create tables: %v", err)
		}
	}
	if cfg.EventsQueue != "" {
		if err := storage.EnsureQueues(ctx, cfg.ConnectionString, cfg.EventsQueue); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	log.Info("storage init complete")
}
