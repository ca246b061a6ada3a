// Package storage selects the appraiser.Repository backend.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/storage/memory"
	"github.com/JakeFAU/channel-appraiser/internal/storage/postgres"
	"github.com/JakeFAU/channel-appraiser/internal/storage/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config selects and tunes the backend.
type Config struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	// Migrate applies the schema right after connecting.
	Migrate bool
}

// Migrator is implemented by backends with a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (appraiser.Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		repo appraiser.Repository
		err  error
	)
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres:
		repo, err = postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
	case DriverSQLite:
		repo, err = sqlite.Open(ctx, cfg.DSN, logger.Named("sqlite"))
	case DriverMemory, "":
		logger.Warn("using in-memory storage; state is lost on restart")
		repo = memory.New()
	default:
		return nil, fmt.Errorf("unknown db.driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if err := Migrate(ctx, repo); err != nil {
			_ = repo.Close()
			return nil, err
		}
	}
	logger.Info("storage ready", zap.String("driver", cfg.Driver))
	return repo, nil
}

// Migrate applies the schema when repo has one.
func Migrate(ctx context.Context, repo appraiser.Repository) error {
	m, ok := repo.(Migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
