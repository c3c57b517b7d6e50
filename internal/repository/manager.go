// Package repository wires the database connection to the per-aggregate
// repositories and owns schema migrations.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dspopov/fileflow/internal/repository/files"
	"github.com/dspopov/fileflow/internal/repository/migrations"
)

// PostgresManager holds the shared connection pool and the repositories
// built on it.
type PostgresManager struct {
	db    *sql.DB
	files files.Repository
}

func NewPostgresManager(dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return &PostgresManager{
		db:    db,
		files: files.NewPostgresRepository(db),
	}, nil
}

func (m *PostgresManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresManager) Files() files.Repository {
	return m.files
}

// RunMigrations applies the embedded migrations up to the latest version.
func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}
