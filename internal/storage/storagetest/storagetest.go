// Package storagetest opens throwaway SQLite-backed stores for tests.
package storagetest

import (
	"context"
	"log/slog"
	"testing"

	"github.com/climsoft/climsoft-web-sub003/internal/storage"
	"github.com/climsoft/climsoft-web-sub003/shared/database"
	"github.com/stretchr/testify/require"
)

// NewStorage returns a migrated Storage over a private in-memory database
func NewStorage(t testing.TB) *storage.Storage {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   ":memory:",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, storage.Migrate(context.Background(), client.GetDB(), logger))

	return storage.NewStorage(client.GetDB(), logger)
}
