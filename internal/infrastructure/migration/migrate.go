package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"golang.org/x/exp/slog"

	// Blank import required for PostgreSQL driver registration for migrations
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var files embed.FS

// Migrator is the subset of migrate.Migrate we use.
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine builds a Migrator. Tests inject a fake one so neither
// the filesystem nor a database is touched.
type MigrationEngine func() (Migrator, error)

type Migration struct {
	engine MigrationEngine
	log    *slog.Logger
}

func NewMigration(engine MigrationEngine, log *slog.Logger) *Migration {
	return &Migration{
		engine: engine,
		log:    log.With("component", "migration"),
	}
}

// PostgresEngine migrates the server schema at databaseURL.
func PostgresEngine(databaseURL string) MigrationEngine {
	return func() (Migrator, error) {
		src, err := iofs.New(files, "sql/postgres")
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		return migrate.NewWithSourceInstance("iofs", src, databaseURL)
	}
}

// SQLiteEngine migrates the client database file at path. It uses its own
// connection because closing the migrator closes the connection too.
func SQLiteEngine(path string) MigrationEngine {
	return func() (Migrator, error) {
		src, err := iofs.New(files, "sql/sqlite")
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite3 database: %w", err)
		}
		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite3 migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	}
}

func (mg *Migration) Up() (err error) {
	m, err := mg.engine()
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mg.log.Debug("schema is up to date")
			return nil
		}
		return fmt.Errorf("migration up: %w", err)
	}
	mg.log.Info("schema migrated")
	return nil
}
