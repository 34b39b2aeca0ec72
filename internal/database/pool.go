package database

// pool.go implements the pooled provider for the management database.
//
// The pool is an explicitly constructed, process-scoped service with an
// explicit Close, not a package-level singleton, so tests and multi-instance
// setups can create and tear down pools independently.

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig holds settings for the management pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	AcquireTimeout  time.Duration
}

// DefaultAcquireTimeout bounds how long Acquire waits for a free connection.
const DefaultAcquireTimeout = 10 * time.Second

// Pool is a bounded pool of long-lived connections to the management
// database. It is safe for concurrent use.
type Pool struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// NewPool creates the pool from cfg. The underlying connections are
// established lazily; NewPool itself fails only on an invalid DSN.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, &ConnectivityError{Op: "parse dsn", Err: err}
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &ConnectivityError{Op: "create pool", Err: err}
	}

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}

	return &Pool{pool: pool, acquireTimeout: timeout}, nil
}

// Acquire hands out one pooled connection after verifying liveness with a
// ping. A stale connection is destroyed instead of reused and replaced with
// a fresh one. Returns ErrPoolBusy when no connection frees up within the
// acquire timeout, and a ConnectivityError when the endpoint is unreachable.
//
// The caller must Release the returned connection.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		slog.Warn("pooled connection is stale, replacing", "error", err)
		// Closing the underlying connection makes the pool destroy it on
		// release instead of reusing it.
		_ = conn.Conn().Close(ctx)
		conn.Release()

		conn, err = p.acquire(ctx)
		if err != nil {
			return nil, err
		}
		if err := conn.Ping(ctx); err != nil {
			conn.Release()
			return nil, &ConnectivityError{Op: "ping", Err: err}
		}
	}

	return conn, nil
}

func (p *Pool) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrPoolBusy
		}
		return nil, &ConnectivityError{Op: "acquire", Err: err}
	}
	return conn, nil
}

// WithTx acquires a connection, begins a transaction, and runs fn inside it.
// The transaction is committed when fn returns nil and rolled back otherwise;
// the connection is returned to the pool on every exit path.
func (p *Pool) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return &ConnectivityError{Op: "begin", Err: err}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// Ping verifies that the management database is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return &ConnectivityError{Op: "ping", Err: err}
	}
	return nil
}

// Close shuts the pool down, closing all idle connections and waiting for
// checked-out ones to be released.
func (p *Pool) Close() {
	p.pool.Close()
}
