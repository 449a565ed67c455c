package main

import (
	"context"
	"log"
	"time"

	"breathe/internal/aggregate"
	"breathe/internal/aqi"
	"breathe/internal/config"
	"breathe/internal/engine"
	"breathe/internal/history"
	"breathe/internal/publish"
	"breathe/internal/source"
	"breathe/internal/spike"
	"breathe/internal/store"

	"github.com/joho/godotenv"
)

// One-shot refresh of every configured zone, suitable for cron. Refreshed
// snapshots are published to the Redis stream when one is configured.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("./config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	breakpoints, err := aqi.LoadBreakpoints(cfg.Calc.BreakpointsFile)
	if err != nil {
		log.Fatalf("Failed to load breakpoints: %v", err)
	}
	calc := aqi.NewCalculator(breakpoints, aqi.Mode(cfg.Calc.Mode))

	db, err := store.NewDB(config.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	guard := spike.NewGuard()
	sensorClient := source.NewAirGradientClient()
	satelliteClient := source.NewOpenMeteoClient()

	agg := aggregate.New(sensorClient, db, guard)
	merger := history.New(db, calc)
	orch := engine.NewOrchestrator(db, agg, sensorClient, satelliteClient, calc, merger)

	cache := engine.NewCache(
		orch,
		cfg.Zones,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		time.Duration(cfg.Cache.RefreshPauseMS)*time.Millisecond,
	)

	if pub := publish.New(config.GetRedisConfig()); pub != nil {
		cache.Publisher = pub
		defer pub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cache.RefreshAll(ctx)
	log.Printf("Refresh cycle completed. Exiting")
}
