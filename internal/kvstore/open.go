package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

// Open creates the store selected by the configuration
func Open(ctx context.Context, cfg models.KVConfig, logger *lib.Logger) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(cfg.File.Dir)
	case "redis":
		return NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Namespace)
	case "mongo":
		timeout := cfg.Mongo.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, timeout, logger)
	default:
		return nil, fmt.Errorf("unknown key/value backend %q", cfg.Backend)
	}
}
