package storage

import (
	"context"
	"database/sql"

	"github.com/ncruces/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a project, version or base entity that
	// must exist does not.
	ErrNotFound = errors.New("not found")

	// ErrVersionOrder is returned when a version would be created in the
	// past, or a commit targets a version behind the project's frontier
	// where that is forbidden.
	ErrVersionOrder = errors.New("version ordering violation")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isConstraint reports whether err is a SQLite constraint violation. Those
// are attributed to the entity being written rather than to the commit.
func isConstraint(err error) bool {
	return errors.Is(err, sqlite3.CONSTRAINT)
}
