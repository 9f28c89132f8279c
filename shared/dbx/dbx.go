// Package dbx opens the Postgres pool behind the event log and analysis
// history.
package dbx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinelai-backend/shared/config"
)

const connectTimeout = 10 * time.Second

// schemaLockKey serializes DDL across replicas starting at the same time.
const schemaLockKey = 0x53454e54

// NewPool builds a pool from cfg and checks one connection before returning.
func NewPool(cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = int32(min(cfg.DBMinConns, cfg.DBMaxConns))
	poolCfg.MaxConnIdleTime = time.Duration(cfg.DBConnMaxIdleSec) * time.Second
	poolCfg.MaxConnLifetime = time.Duration(cfg.DBConnMaxLifeSec) * time.Second
	if cfg.ServiceName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ServiceName
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initial ping: %w", err)
	}
	return pool, nil
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("db pool is nil")
	}
	var one int
	return pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// ApplySchema runs idempotent DDL in one transaction holding an advisory
// lock, so concurrent starts do not race on CREATE INDEX.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool, ddl string) error {
	if pool == nil {
		return errors.New("db pool is nil")
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(schemaLockKey)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, ddl)
		return err
	})
}
