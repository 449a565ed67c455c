package main

import (
	"context"
	"log"
	"sync"
	"time"

	"breathe/internal/config"
	"breathe/internal/source"
	"breathe/internal/store"

	"github.com/joho/godotenv"
)

// Backfills the persisted history from the sensor API for every zone with
// physical nodes. Safe to re-run: inserts are idempotent per (zone, ts).
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("./config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.NewDB(config.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	client := source.NewAirGradientClient()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var wg sync.WaitGroup
	for _, zone := range cfg.Zones {
		if len(zone.SensorNodes) == 0 {
			continue
		}
		wg.Add(1)
		go func(zone config.Zone) {
			defer wg.Done()
			backfillZone(ctx, client, db, zone)
		}(zone)
	}
	wg.Wait()

	log.Printf("Backfill completed. Exiting")
}

func backfillZone(ctx context.Context, client *source.AirGradientClient, db *store.DB, zone config.Zone) {
	token := zone.Token()
	if token == "" {
		log.Printf("Skipping %s: no token in env %s", zone.ID, zone.TokenEnv)
		return
	}

	for _, node := range zone.SensorNodes {
		readings, err := client.Past(ctx, node.LocationID, token)
		if err != nil {
			log.Printf("Failed to fetch past readings for %s/%s: %v", zone.ID, node.DisplayName, err)
			continue
		}

		count := 0
		for _, r := range readings {
			pm10 := 0.0
			if r.PM10 != nil {
				pm10 = *r.PM10
			}
			if err := db.SaveReading(zone.ID, *r.PM25, pm10, r.TS); err != nil {
				log.Printf("Failed to save reading for %s: %v", zone.ID, err)
				continue
			}
			if err := db.SaveReading(store.NodeKey(zone.ID, node.DisplayName), *r.PM25, pm10, r.TS); err != nil {
				continue
			}
			count++
		}
		log.Printf("✓ Backfilled %d records for %s/%s", count, zone.ID, node.DisplayName)
	}
}
