package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	dbmigrations "github.com/quorumlab/quorum/db/migrations"
	"github.com/quorumlab/quorum/internal/observability"
)

var errNotDirectory = errors.New("migrations path must be a directory")

// Migrate brings the schema up to date. With an empty migrationsDir the
// SQL bundled into the binary is applied; otherwise the directory wins,
// which lets operators run ahead of a release.
func Migrate(ctx context.Context, dsn, migrationsDir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			observability.Log().Error("migrations close", observability.F("error", cerr.Error()))
		}
	}()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	var m *migrate.Migrate
	if strings.TrimSpace(migrationsDir) == "" {
		source, err := iofs.New(dbmigrations.Files, ".")
		if err != nil {
			return fmt.Errorf("open embedded migrations: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "pgx5", driver)
		if err != nil {
			return fmt.Errorf("initialise migrate instance: %w", err)
		}
	} else {
		resolvedDir, err := resolveDir(migrationsDir)
		if err != nil {
			return err
		}
		m, err = migrate.NewWithDatabaseInstance("file://"+resolvedDir, "pgx5", driver)
		if err != nil {
			return fmt.Errorf("initialise migrate instance: %w", err)
		}
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			observability.Log().Error("migrations source close", observability.F("error", sourceErr.Error()))
		}
		if dbErr != nil {
			observability.Log().Error("migrations db close", observability.F("error", dbErr.Error()))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			observability.Log().Info("database migrations up-to-date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	observability.Log().Info("database migrations applied")
	return nil
}

func resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(strings.TrimSpace(dir))
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}
	return abs, nil
}
