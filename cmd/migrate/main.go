package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"reaper/internal/config"
	"reaper/internal/database"
	"reaper/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	migrationsPath := cfg.MigrationsPath

	if command == "create" {
		if len(os.Args) < 3 {
			zl.Fatal("usage: migrate create <migration_name>")
		}
		createMigration(zl, migrationsPath, os.Args[2])
		return
	}

	db, err := sql.Open("pgx", cfg.Postgres.DSN())
	if err != nil {
		zl.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	switch command {
	case "up":
		zl.Info("running migrations", zap.String("path", migrationsPath))
		if err := database.RunMigrations(db, migrationsPath); err != nil {
			zl.Fatal("migration failed", zap.Error(err))
		}
		zl.Info("migrations completed successfully")

	case "down":
		zl.Info("rolling back last migration", zap.String("path", migrationsPath))
		if err := database.RollbackMigration(db, migrationsPath); err != nil {
			zl.Fatal("rollback failed", zap.Error(err))
		}
		zl.Info("rollback completed successfully")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db, migrationsPath)
		if err != nil {
			zl.Fatal("failed to get version", zap.Error(err))
		}
		if dirty {
			zl.Warn("current version is dirty, needs manual intervention", zap.Uint("version", version))
		} else {
			zl.Info("current version", zap.Uint("version", version))
		}

	default:
		zl.Error("unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func createMigration(zl *zap.Logger, dir, name string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		zl.Fatal("read migrations directory", zap.String("dir", dir), zap.Error(err))
	}

	nextVersion := 1
	for _, file := range files {
		if !file.IsDir() {
			nextVersion++
		}
	}
	nextVersion = (nextVersion / 2) + 1 // Each migration has up and down files

	upFile := fmt.Sprintf("%s/%06d_%s.up.sql", dir, nextVersion, name)
	downFile := fmt.Sprintf("%s/%06d_%s.down.sql", dir, nextVersion, name)

	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n-- Add your SQL here\n", name, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		zl.Fatal("create up migration", zap.Error(err))
	}
	downContent := fmt.Sprintf("-- Rollback: %s\n\n-- Add your rollback SQL here\n", name)
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		zl.Fatal("create down migration", zap.Error(err))
	}

	zl.Info("created migration files", zap.String("up", upFile), zap.String("down", downFile))
}

func printUsage() {
	fmt.Println("Database Migration Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate up              Run all pending migrations")
	fmt.Println("  migrate down            Rollback the last migration")
	fmt.Println("  migrate version         Show current migration version")
	fmt.Println("  migrate create <name>   Create a new migration file")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BLUEPRINT_DB_HOST       Database host (default: localhost)")
	fmt.Println("  BLUEPRINT_DB_PORT       Database port (default: 5432)")
	fmt.Println("  BLUEPRINT_DB_DATABASE   Database name (default: reaper)")
	fmt.Println("  BLUEPRINT_DB_USERNAME   Database user (default: postgres)")
	fmt.Println("  BLUEPRINT_DB_PASSWORD   Database password (default: postgres)")
	fmt.Println("  BLUEPRINT_DB_SCHEMA     Search path schema (default: public)")
	fmt.Println("  MIGRATIONS_PATH         Path to migrations (default: ./migrations)")
}
