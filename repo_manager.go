package account

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	DB() *bun.DB
	Users() Users
	Close() error
}

type mngr struct {
	db    *bun.DB
	users Users
}

// NewRepositoryManager wraps an already opened database
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:    db,
		users: NewUsersRepository(db),
	}
}

// OpenDB opens a bun database for dialect. SQLite is limited to a single
// connection so in-memory databases are shared.
func OpenDB(dialect, dsn string) (*bun.DB, error) {
	switch strings.ToLower(dialect) {
	case DialectSQLite, "sqlite3":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case DialectPostgres, "postgresql", "pgx":
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres database")
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		_, _, err := migrationTarget(dialect)
		return nil, err
	}
}

// Connect opens the database, pings it and applies migrations
func Connect(ctx context.Context, dialect, dsn string) (RepositoryManager, error) {
	db, err := OpenDB(dialect, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reach database").
			WithTextCode(TextCodeStorageFault)
	}

	if err := RunMigrations(ctx, db.DB, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewRepositoryManager(db), nil
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
