package main

import (
	"flag"

	"go.uber.org/zap"

	"automation-engine/internal/config"
	"automation-engine/migrations"
	"automation-engine/pkg/db"
	"automation-engine/pkg/logger"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	dsn := db.DSN(cfg.DB)
	if *down > 0 {
		err = db.RollbackMigrations(migrations.FS, dsn, *down, log)
	} else {
		err = db.RunMigrations(migrations.FS, dsn, log)
	}
	if err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
}
