// Package registry assembles the resource stores from configuration.
// PostgreSQL is selected when store.type says so or when a pg host is
// configured; otherwise the service runs on the in-memory store.
package registry

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dhawalhost/provgate/internal/config"
	"github.com/dhawalhost/provgate/internal/store"
	"github.com/dhawalhost/provgate/internal/store/memory"
	"github.com/dhawalhost/provgate/internal/store/postgres"
	"github.com/dhawalhost/provgate/pkg/database"
)

// Stores bundles the assembled backends. DB is nil for the memory backend.
type Stores struct {
	Users  store.Store
	Groups store.GroupStore
	DB     *sqlx.DB
}

// New builds the stores for the configured backend. For postgres it opens
// the connection pool and provisions the schema.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	if !usePostgres(cfg) {
		logger.Info("using in-memory store")
		users := memory.New("User", memory.WithUniqueAttr("userName"))
		groups := memory.New("Group",
			memory.WithUniqueAttr("displayName"), memory.WithNestedStore("members"))
		return &Stores{Users: users, Groups: groups}, nil
	}

	db, err := database.NewConnection(database.Config{
		Host:     cfg.Store.PG.Host,
		Port:     cfg.Store.PG.Port,
		User:     cfg.Store.PG.User,
		Password: cfg.Store.PG.Password,
		DBName:   cfg.Store.PG.DBName,
		SSLMode:  cfg.Store.PG.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.SetUpSchema(ctx, db, cfg.Store.PG.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("provision schema: %w", err)
	}

	logger.Info("using postgres store",
		zap.String("host", cfg.Store.PG.Host), zap.String("schema", cfg.Store.PG.Schema))
	return &Stores{
		Users:  postgres.NewUserStore(db, cfg.Store.PG.Schema, logger),
		Groups: postgres.NewGroupStore(db, cfg.Store.PG.Schema, logger),
		DB:     db,
	}, nil
}

func usePostgres(cfg *config.Config) bool {
	if cfg.Store.Type != "" {
		return cfg.Store.Type == "postgres"
	}
	return cfg.Store.PG.Host != ""
}
