package account

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package state
var gooseMu sync.Mutex

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationsFor returns the migration directory for dialect
func MigrationsFor(dialect string) (fs.FS, error) {
	dir, _, err := migrationTarget(dialect)
	if err != nil {
		return nil, err
	}
	return fs.Sub(migrationsFS, dir)
}

// RunMigrations applies every pending migration for dialect
func RunMigrations(ctx context.Context, db *sql.DB, dialect string) error {
	dir, gooseDialect, err := migrationTarget(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(gooseDialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set migration dialect")
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations").
			WithTextCode(TextCodeStorageFault)
	}

	return nil
}

func migrationTarget(dialect string) (dir string, gooseDialect string, err error) {
	switch dialect {
	case DialectSQLite, "sqlite3":
		return "data/sql/migrations/sqlite", "sqlite3", nil
	case DialectPostgres, "pgx", "postgresql":
		return "data/sql/migrations/postgres", "postgres", nil
	default:
		return "", "", goerrors.New("unsupported database dialect", goerrors.CategoryBadInput).
			WithTextCode(TextCodeInvalidInput).
			WithMetadata(map[string]any{
				"dialect": dialect,
			})
	}
}
