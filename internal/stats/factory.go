package stats

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tokengate/internal/models"
)

// Factory creates recorders from configuration so backends can be swapped
// without code changes.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates the recorder named by config.Type. Supported backends:
//   - none: statistics disabled, returns a nil Recorder
//   - memory: in-process counters (development, single instance)
//   - redis: shared counters across instances
//   - postgres: durable counters in PostgreSQL
//   - sqlite: durable counters in a local SQLite file
func (f *Factory) Create(ctx context.Context, config models.StatsConfig) (Recorder, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	switch config.Type {
	case models.StatsTypeNone:
		return nil, nil
	case models.StatsTypeMemory:
		return NewMemoryRecorder(), nil
	case models.StatsTypeRedis:
		return DialRedisRecorder(ctx, &redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		}, WithRedisPrefix(config.Redis.Prefix), WithRedisTTL(config.Redis.TTL))
	case models.StatsTypePostgres:
		return NewPostgresRecorder(ctx, config.DSN)
	case models.StatsTypeSQLite:
		return NewSQLiteRecorder(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported stats type: %s", config.Type)
	}
}

// GetSupportedProviders returns the backend names accepted by Create.
func (f *Factory) GetSupportedProviders() []string {
	return []string{
		models.StatsTypeNone,
		models.StatsTypeMemory,
		models.StatsTypeRedis,
		models.StatsTypePostgres,
		models.StatsTypeSQLite,
	}
}

// ValidateConfig checks that config carries what its backend needs.
func (f *Factory) ValidateConfig(config models.StatsConfig) error {
	switch config.Type {
	case models.StatsTypeNone, models.StatsTypeMemory:
	case models.StatsTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis stats")
		}
	case models.StatsTypePostgres, models.StatsTypeSQLite:
		if config.DSN == "" {
			return fmt.Errorf("DSN is required for %s stats", config.Type)
		}
	default:
		return fmt.Errorf("unsupported stats type: %s", config.Type)
	}
	return nil
}
