package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Paparusi/labo-sub000/internal/config"
	"github.com/Paparusi/labo-sub000/internal/logging"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	catalog := flag.String("catalog", envOr("PLAN_CATALOG", "plans.yaml"), "plan catalog YAML file")
	dbURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	flag.Parse()

	logger := logging.New(envOr("LOG_LEVEL", "info"), envOr("LOG_FORMAT", "console"))

	if *dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	plans, err := config.LoadPlanCatalog(*catalog)
	if err != nil {
		logger.Fatal().Err(err).Str("catalog", *catalog).Msg("load plan catalog")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := repository.NewDB(ctx, *dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer db.Close()

	if err := repository.RunMigrations(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	store := repository.NewPostgresStore(db)
	for _, p := range plans {
		if err := store.UpsertPlan(ctx, p); err != nil {
			logger.Fatal().Err(err).Str("slug", p.Slug).Msg("upsert plan")
		}
		logger.Info().
			Str("id", p.ID).
			Str("slug", p.Slug).
			Int64("price_monthly", p.PriceMonthly).
			Int64("price_yearly", p.PriceYearly).
			Msg("plan seeded")
	}
	fmt.Printf("seeded %d plans from %s\n", len(plans), *catalog)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
