// Package client wires the local database and repositories together.
package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/carekeeper/internal/client/migrations"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/records"
)

// Repositories bundles the stores backed by one local database.
type Repositories struct {
	Queue    queue.Repository
	Records  records.Repository
	Metadata metadata.Repository
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the SQLite database at dsn, migrates the schema and
// returns the handle together with repositories bound to it. The queue and
// unsynced flags live in this database, so pending work survives a relaunch.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, *Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	repos := &Repositories{
		Queue:    queue.NewSQLiteRepository(db),
		Records:  records.NewSQLiteRepository(db),
		Metadata: metadata.NewSQLiteRepository(db),
	}
	return db, repos, nil
}
