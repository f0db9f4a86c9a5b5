package server

import (
	"context"
	"time"

	"github.com/telemetryhub/ingestd/internal/database"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// StorageCheck adapts a storage.Storage to handler.HealthChecker.
type StorageCheck struct {
	DB storage.Storage
}

func (c StorageCheck) Health() bool { return c.ping() == nil }
func (c StorageCheck) Ready() bool  { return c.ping() == nil }

func (c StorageCheck) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.DB.Ping(ctx)
}

// RedisCheck adapts a database.Redis to handler.HealthChecker. Redis
// is ancillary (rate limiting, top-N cache): an outage degrades
// functionality but the service stays ready.
type RedisCheck struct {
	Redis *database.Redis
}

func (c RedisCheck) Health() bool { return c.Redis == nil || c.Redis.Health() }
func (c RedisCheck) Ready() bool  { return true }
