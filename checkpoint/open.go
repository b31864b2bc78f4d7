package checkpoint

import (
	"context"
	"fmt"
	"io"

	"github.com/shapeshift/agentic-chat/core"
)

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Config selects and configures a checkpoint backend.
type Config struct {
	Driver string      `yaml:"driver"`
	DSN    string      `yaml:"dsn"` // sqlite path or mysql dsn
	Redis  RedisConfig `yaml:"redis"`
}

// Store is a CheckpointStore holding resources that must be released.
type Store interface {
	core.CheckpointStore
	io.Closer
}

// Open creates the store selected by cfg.Driver. An empty driver selects the
// in-memory store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewInMemoryStore(), nil
	case DriverSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite checkpoint store requires a dsn (file path)")
		}
		return NewSQLite(cfg.DSN)
	case DriverMySQL:
		return NewMySQL(cfg.DSN)
	case DriverRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Driver)
	}
}
