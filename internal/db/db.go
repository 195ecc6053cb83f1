package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"moltlink/internal/models"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open connects to DATABASE_URL. Accepted forms:
//
//	postgres://... | postgresql://...  (production)
//	sqlite://path/to/file.db | sqlite://:memory:
func Open(databaseURL string, logger *slog.Logger) (*gorm.DB, error) {
	var (
		dial      gorm.Dialector
		isSqlite  bool
		openConns = 50
	)

	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dial = postgres.Open(databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		dial = sqlite.Open(path)
		openConns = 1
		isSqlite = true
	default:
		return nil, errors.New("unsupported DATABASE_URL, expected postgres:// or sqlite://")
	}

	if logger == nil {
		logger = slog.Default()
	}
	gormLogger := slogGorm.New(slogGorm.WithLogger(logger))

	gdb, err := gorm.Open(dial, &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA synchronous=normal;",
		} {
			if err := gdb.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
			}
		}
	}

	return gdb, nil
}

// Migrate runs AutoMigrate for every model.
func Migrate(ctx context.Context, gdb *gorm.DB) error {
	if err := gdb.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// SeedSubmolts creates the given communities if they do not exist yet.
func SeedSubmolts(ctx context.Context, gdb *gorm.DB, names []string) error {
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		submolt := models.Submolt{Name: name, DisplayName: name}
		err := gdb.WithContext(ctx).
			Where(models.Submolt{Name: name}).
			FirstOrCreate(&submolt).Error
		if err != nil {
			return fmt.Errorf("seed submolt %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqldb, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}
