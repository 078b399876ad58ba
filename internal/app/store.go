package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolekeeper/rolekeeper/internal/platform/db"
	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

// Store is the RBAC store selected by STORE_DRIVER. Pool is nil for the
// memory driver.
type Store struct {
	rbac.Store
	Pool *pgxpool.Pool
}

// Ping reports whether the backing database answers.
func (s Store) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Ping(ctx)
}

// Close releases the connection pool, if any.
func (s Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStore connects the configured store and applies the schema when
// PG_AUTO_MIGRATE is set.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (Store, error) {
	if cfg.StoreDriver == StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return Store{Store: rbac.NewMemoryStore()}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return Store{}, err
	}
	if cfg.PGAutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return Store{}, err
		}
		logger.Info("schema applied")
	}
	return Store{Store: rbac.NewPGStore(pool), Pool: pool}, nil
}

// SeedPlan builds the bootstrap plan from the SEED_* settings.
func SeedPlan(cfg *Config) rbac.SeedPlan {
	return rbac.DefaultSeedPlan(
		rbac.PrincipalSeed{
			Name:     cfg.SeedSuperAdminName,
			Email:    cfg.SeedSuperAdminEmail,
			Password: cfg.SeedPassword,
			Role:     rbac.SuperAdminRole,
		},
		rbac.PrincipalSeed{
			Name:     cfg.SeedAdminName,
			Email:    cfg.SeedAdminEmail,
			Password: cfg.SeedPassword,
			Role:     "ROLE_ADMIN",
		},
	)
}
