package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres builds a registry on an existing pgx pool, so the registry
// and the vector store can share connections. Closing the registry does
// not close the pool.
func OpenPostgres(ctx context.Context, pool *pgxpool.Pool) (*Registry, error) {
	db := stdlib.OpenDBFromPool(pool)

	r, err := newRegistry(ctx, db, dialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewPool dials Postgres.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
