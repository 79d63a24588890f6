package account

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

const pgUniqueViolation = "23505"

// Users is the persistence collaborator consumed by the account core.
// Missing rows are reported as not found errors, see IsNotFound.
type Users interface {
	GetAll(ctx context.Context) ([]*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	// Update writes the named columns, every updatable column when none
	// are given. updated_at is always written.
	Update(ctx context.Context, user *User, columns ...string) (*User, error)
	// ConsumeCode is Update guarded by the stored row: it only writes while
	// the row still matches guard, and reports false otherwise.
	ConsumeCode(ctx context.Context, user *User, guard CodeGuard, columns ...string) (bool, error)
}

// CodeGuard is the stored precondition for consuming a one-time code
type CodeGuard struct {
	Code string
	// State must match as well when set
	State UserState
}

const (
	ColumnName             = "name"
	ColumnPasswordHash     = "password_hash"
	ColumnState            = "state"
	ColumnVerificationCode = "verification_code"
	ColumnLastLoginAt      = "last_login_at"
	ColumnUpdatedAt        = "updated_at"
)

// updatableUserColumns lists what Update may write. Email, salt and id
// never change.
var updatableUserColumns = []string{
	ColumnName,
	ColumnPasswordHash,
	ColumnState,
	ColumnVerificationCode,
	ColumnLastLoginAt,
	ColumnUpdatedAt,
}

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns a bun backed Users repository
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		repo: repo,
		db:   db,
	}
}

func (a *users) GetAll(ctx context.Context) ([]*User, error) {
	records := []*User{}
	err := a.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapStorage(err, "failed to list users")
	}
	return records, nil
}

func (a *users) GetByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, notFound("id", id)
	}

	record, err := a.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if IsNotFound(err) {
			return nil, notFound("id", id)
		}
		return nil, wrapStorage(err, "failed to get user")
	}
	return record, nil
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, notFound("email", email)
		}
		return nil, wrapStorage(err, "failed to get user by email")
	}
	return record, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record)

	created, err := a.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailInUse
		}
		return nil, wrapStorage(err, "failed to create user")
	}
	return created, nil
}

func (a *users) Update(ctx context.Context, record *User, columns ...string) (*User, error) {
	query, err := a.updateQuery(record, columns)
	if err != nil {
		return nil, err
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return nil, wrapStorage(err, "failed to update user")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound("id", record.ID.String())
	}

	return record, nil
}

func (a *users) ConsumeCode(ctx context.Context, record *User, guard CodeGuard, columns ...string) (bool, error) {
	query, err := a.updateQuery(record, columns)
	if err != nil {
		return false, err
	}

	if guard.Code == "" {
		return false, nil
	}

	query = query.Where("verification_code = ?", guard.Code)
	if guard.State != "" {
		query = query.Where("state = ?", string(guard.State))
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return false, wrapStorage(err, "failed to consume one-time code")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapStorage(err, "failed to consume one-time code")
	}

	return n == 1, nil
}

func (a *users) updateQuery(record *User, columns []string) (*bun.UpdateQuery, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, notFound("id", "")
	}

	cols, err := updateColumns(columns)
	if err != nil {
		return nil, err
	}

	if record.UpdatedAt == nil {
		now := time.Now()
		record.UpdatedAt = &now
	}

	return a.db.NewUpdate().
		Model(record).
		Column(cols...).
		WherePK(), nil
}

func updateColumns(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return updatableUserColumns, nil
	}

	out := make([]string, 0, len(columns)+1)
	seen := map[string]bool{}
	for _, column := range append(slices.Clone(columns), ColumnUpdatedAt) {
		if seen[column] {
			continue
		}
		if !slices.Contains(updatableUserColumns, column) {
			return nil, goerrors.New("column is not updatable", goerrors.CategoryBadInput).
				WithCode(goerrors.CodeBadRequest).
				WithMetadata(map[string]any{"column": column})
		}
		seen[column] = true
		out = append(out, column)
	}
	return out, nil
}

// IsNotFound reports whether err means no user matched
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrUserNotFound) {
		return true
	}
	if repository.IsRecordNotFound(err) {
		return true
	}
	return hasTextCode(err, TextCodeUserNotFound)
}

func notFound(field, value string) error {
	return goerrors.New("user not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeUserNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{
			field: value,
		})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsureState()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}
