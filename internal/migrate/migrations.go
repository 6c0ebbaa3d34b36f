package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"grantmaster/internal/db"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

func provider(conn *sql.DB, d db.Dialect) (*goose.Provider, error) {
	dir, dialect := "sql/sqlite", goose.DialectSQLite3
	if d == db.Postgres {
		dir, dialect = "sql/postgres", goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(dialect, conn, fsys)
}

// Migrate applies embedded migrations in order.
func Migrate(ctx context.Context, conn *sql.DB, d db.Dialect) error {
	p, err := provider(conn, d)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Version reports the current schema version.
func Version(ctx context.Context, conn *sql.DB, d db.Dialect) (int64, error) {
	p, err := provider(conn, d)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}
