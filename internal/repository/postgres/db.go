package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/shopledger/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Driver names registered by the blank imports above.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

type DB struct {
	*sqlx.DB
	sem *semaphore.Weighted
	dsn string
}

var (
	dbInstance *DB
	once       sync.Once
)

// NewDB creates the process-wide connection pool on lib/pq.
func NewDB(cfg *config.DatabaseConfig) (*DB, error) {
	var err error
	once.Do(func() {
		dbInstance, err = Connect(DriverPQ, cfg.DSN())
	})

	return dbInstance, err
}

// Connect opens a pool on the given driver without touching the shared
// instance. The CLI uses it with DriverPGX.
func Connect(driver, dsn string) (*DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		DB:  db,
		sem: semaphore.NewWeighted(10),
		dsn: dsn,
	}, nil
}

// DSN returns the connection string the pool was opened with.
func (db *DB) DSN() string {
	return db.dsn
}

func (db *DB) acquire(ctx context.Context) error {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	return nil
}

func (db *DB) release() {
	db.sem.Release(1)
}

// WithTx executes a function within a transaction
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := db.acquire(ctx); err != nil {
		return err
	}
	defer db.release()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}
