package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/storage/memory"
	"github.com/JakeFAU/channel-appraiser/internal/storage/sqlite"
)

func TestOpenMemory(t *testing.T) {
	t.Parallel()

	repo, err := Open(context.Background(), Config{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Repository{}, repo)
}

func TestOpenSQLiteMigrates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, err := Open(ctx, Config{
		Driver:  "SQLite",
		DSN:     filepath.Join(t.TempDir(), "a.db"),
		Migrate: true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	assert.IsType(t, &sqlite.Repository{}, repo)

	_, _, err = repo.UpsertChannel(ctx, appraiser.ChannelSnapshot{Handle: "x"})
	require.NoError(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Driver: "mongo"}, nil)
	require.ErrorContains(t, err, "mongo")
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Driver: DriverPostgres}, nil)
	require.Error(t, err)
}
