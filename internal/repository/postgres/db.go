// Package postgres stores tracking run history in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/testforge/trackingtester/internal/config"
)

const connectTimeout = 5 * time.Second

// DB is the history database handle.
type DB struct {
	*sqlx.DB
}

// New opens a pool sized by cfg and verifies the server is reachable.
func New(cfg config.DatabaseConfig) (*DB, error) {
	pool, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("reaching database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &DB{DB: pool}, nil
}

func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// isUniqueViolation reports a 23505 error from the server.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// inTx runs fn in a transaction that is committed only when fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("committing transaction: %w", cErr)
		}
	}()
	return fn(tx)
}

// Migrate applies the *.sql files of migrations in lexical order within one
// transaction. The files must be idempotent.
func (db *DB) Migrate(ctx context.Context, migrations fs.FS) error {
	files, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(files)

	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, file := range files {
			stmt, err := fs.ReadFile(migrations, file)
			if err != nil {
				return fmt.Errorf("reading migration %s: %w", file, err)
			}
			if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
				return fmt.Errorf("applying %s: %w", file, err)
			}
		}
		return nil
	})
}
