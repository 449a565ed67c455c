package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breathe/internal/aggregate"
	"breathe/internal/aqi"
	"breathe/internal/config"
	"breathe/internal/engine"
	"breathe/internal/history"
	"breathe/internal/publish"
	"breathe/internal/server"
	"breathe/internal/source"
	"breathe/internal/spike"
	"breathe/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // ignore missing file

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Start(ctx)

	httpServer := server.NewServer(cache, cfg)
	go func() {
		log.Printf("Starting server on %s", cfg.HTTP.Addr)
		if err := httpServer.Start(cfg.HTTP.Addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()
}
