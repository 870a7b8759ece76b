// Command import-subscribers loads subscribers from a CSV file into the
// database. Existing rows keep an unsubscribed status.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"postbell/internal/csvparser"
	"postbell/internal/db"
	"postbell/internal/models"
)

type importConfig struct {
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"true"`
}

func main() {
	file := flag.String("file", "", "path to the subscriber CSV")
	maxRows := flag.Int("max-rows", csvparser.DefaultMaxRows, "maximum data rows to import")
	dryRun := flag.Bool("dry-run", false, "parse and validate without writing")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *file == "" {
		logger.Fatal("missing -file")
	}

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal("failed to open csv", zap.Error(err))
	}
	defer f.Close()

	rows, skipped, err := csvparser.ParseRecipients(f, *maxRows)
	if err != nil {
		logger.Fatal("failed to parse csv", zap.Error(err))
	}
	for _, s := range skipped {
		logger.Warn("row skipped", zap.Int("line", s.Line), zap.String("reason", s.Reason))
	}

	valid := rows[:0]
	for _, r := range rows {
		if err := models.Validate(r); err != nil {
			logger.Warn("invalid subscriber", zap.String("email", r.Email), zap.Error(err))
			continue
		}
		valid = append(valid, r)
	}

	if *dryRun {
		logger.Info("dry run complete", zap.Int("valid", len(valid)), zap.Int("skipped", len(skipped)+len(rows)-len(valid)))
		return
	}

	var cfg importConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
	}

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	imported := 0
	for _, r := range valid {
		if err := store.UpsertRecipient(ctx, r); err != nil {
			logger.Error("failed to upsert subscriber", zap.String("email", r.Email), zap.Error(err))
			continue
		}
		imported++
	}

	logger.Info("import complete",
		zap.Int("imported", imported),
		zap.Int("failed", len(valid)-imported),
		zap.Int("skipped", len(skipped)+len(rows)-len(valid)),
	)
}
