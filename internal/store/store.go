// Package store wraps the shared PostgreSQL database (spec §3 C1): feeds,
// items, runs, nodes and the content-addressed auxiliary tables, plus the
// serializable-transaction helper the admission claim is built on. Feed-poll
// selection does not use it; it is guarded by the feed package's advisory
// lock alone.
//
// Grounded on the teacher's internal/db/db.go: a *sql.DB wrapped in a typed
// struct, lib/pq driver, connection-pool tuning and a Ping at connect time.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Store wraps the shared database connection pool.
type Store struct {
	*sql.DB
	log zerolog.Logger
}

// Connect opens and pings a PostgreSQL connection, then applies the schema.
func Connect(ctx context.Context, connStr string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{DB: db, log: log}
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Info().Msg("connected to shared store")
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction, committing on
// success and rolling back on any error (including a panic, which is
// re-raised after rollback). Admission claiming runs inside it; feed-poll
// selection does not.
func (s *Store) WithSerializableTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin serializable tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}
