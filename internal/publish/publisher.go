package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"breathe/internal/config"
	"breathe/internal/models"

	"github.com/go-redis/redis/v8"
)

// streamMaxLen caps the snapshot stream so it cannot grow unbounded.
const streamMaxLen = 500

// Publisher pushes refreshed zone snapshots onto a Redis stream for
// downstream consumers (alerting, archival).
type Publisher struct {
	client *redis.Client
	stream string
}

// New builds a publisher from the Redis settings. Returns nil when no
// address is configured, which disables publishing.
func New(cfg config.RedisConfig) *Publisher {
	if cfg.Addr == "" {
		return nil
	}
	return &Publisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		stream: cfg.Stream,
	}
}

// Publish serializes the snapshot and appends it to the stream.
func (p *Publisher) Publish(ctx context.Context, snap *models.ZoneSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot for %s: %w", snap.ZoneID, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish snapshot for %s: %w", snap.ZoneID, err)
	}

	if err := p.client.XTrimMaxLen(ctx, p.stream, streamMaxLen).Err(); err != nil {
		log.Printf("Failed to trim stream %s: %v", p.stream, err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
