// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"moltlink/internal/db"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// New opens a migrated SQLite database in t.TempDir() with the
// "general" submolt seeded.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gdb, err := db.Open("sqlite://"+filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, gdb))
	require.NoError(t, db.SeedSubmolts(ctx, gdb, []string{"general"}))
	return gdb
}
